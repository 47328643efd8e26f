// Package saga creates orders across the inventory and order stores, which
// share no transaction. A reservation that outlives a failed order write is
// undone by an explicit compensating release.
package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/events"
	"github.com/nurulloasawear/megasavdo/internal/models"
	"go.uber.org/zap"
)

type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type Pricer interface {
	ValidateAndPriceItems(ctx context.Context, items []models.ItemRequest) ([]models.OrderLineItem, error)
}

type Ledger interface {
	Reserve(ctx context.Context, items []models.ItemRequest) error
	Release(ctx context.Context, items []models.ItemRequest) error
}

type OrderWriter interface {
	CreateOrder(ctx context.Context, req models.NewOrder) (*models.Order, error)
}

// StrandedRecorder keeps reservations whose compensation failed so they can
// be released later.
type StrandedRecorder interface {
	Record(ctx context.Context, sagaID string, items []models.ItemRequest, reason string) (*models.StrandedReservation, error)
}

type Options struct {
	// CollaboratorTimeout bounds the identity and pricing calls.
	CollaboratorTimeout time.Duration
	// CompensationTimeout bounds the release and the stranded write.
	CompensationTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		CollaboratorTimeout: 3 * time.Second,
		CompensationTimeout: 10 * time.Second,
	}
}

type CreateOrderRequest struct {
	UserID          int64                `json:"user_id"`
	Items           []models.ItemRequest `json:"items"`
	ShippingAddress string               `json:"shipping_address"`
	BillingAddress  string               `json:"billing_address,omitempty"`
	PaymentMethod   string               `json:"payment_method"`
	Notes           string               `json:"notes,omitempty"`
}

type Orchestrator struct {
	users     UserDirectory
	pricer    Pricer
	ledger    Ledger
	orders    OrderWriter
	stranded  StrandedRecorder
	publisher events.Publisher
	logger    *zap.Logger
	opts      Options
}

func NewOrchestrator(
	users UserDirectory,
	pricer Pricer,
	ledger Ledger,
	orders OrderWriter,
	stranded StrandedRecorder,
	publisher events.Publisher,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		users:     users,
		pricer:    pricer,
		ledger:    ledger,
		orders:    orders,
		stranded:  stranded,
		publisher: publisher,
		logger:    logger.Named("saga"),
		opts:      opts,
	}
}

// CreateOrder validates the user and items, reserves stock, then persists the
// order. If persisting fails the reservation is released before the
// persistence error is returned. Once stock is reserved the saga ignores
// cancellation of ctx and runs to success or full compensation.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, *Execution, error) {
	exec := newExecution(req.UserID)
	logger := o.logger.With(zap.String("saga_id", exec.ID), zap.Int64("user_id", req.UserID))

	if err := validateRequest(req); err != nil {
		exec.fail(stepValidateRequest, err)
		return nil, exec, err
	}
	exec.complete(stepValidateRequest)

	if _, err := o.resolveUser(ctx, req.UserID); err != nil {
		exec.fail(stepResolveUser, err)
		logger.Info("Order rejected", zap.String("step", stepResolveUser), zap.Error(err))
		return nil, exec, err
	}
	exec.complete(stepResolveUser)

	lines, err := o.priceItems(ctx, req.Items)
	if err != nil {
		exec.fail(stepPriceItems, err)
		logger.Info("Order rejected", zap.String("step", stepPriceItems), zap.Error(err))
		return nil, exec, err
	}
	exec.complete(stepPriceItems)

	reserved := models.ItemRequests(lines)
	if err := o.ledger.Reserve(ctx, reserved); err != nil {
		// Reserve is all-or-nothing, so nothing is held and nothing needs undoing.
		exec.fail(stepReserveStock, err)
		logger.Info("Order rejected", zap.String("step", stepReserveStock), zap.Error(err))
		return nil, exec, err
	}
	exec.complete(stepReserveStock)
	exec.addCompensation(Compensation{Name: compensationReleaseStock, Items: reserved})

	ctx = context.WithoutCancel(ctx)

	order, err := o.orders.CreateOrder(ctx, models.NewOrder{
		UserID:          req.UserID,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		BillingAddress:  strings.TrimSpace(req.BillingAddress),
		Notes:           req.Notes,
		Items:           lines,
		Actor:           fmt.Sprintf("user:%d", req.UserID),
	})
	if err != nil {
		exec.fail(stepPersistOrder, err)
		logger.Warn("Order persistence failed, compensating", zap.Error(err))
		o.compensate(ctx, logger, exec, err)
		return nil, exec, fmt.Errorf("persist order: %w", err)
	}
	exec.complete(stepPersistOrder)
	exec.OrderID = order.ID
	exec.Status = StatusCompleted

	logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.String()),
		zap.Int("lines", len(order.Items)),
	)
	events.PublishBestEffort(ctx, o.publisher, logger, events.New(events.OrderCreated, order.ID, order))

	return order, exec, nil
}

func validateRequest(req CreateOrderRequest) error {
	if req.UserID <= 0 {
		return apperr.Validation("user_id", "must be positive")
	}
	if len(req.Items) == 0 {
		return apperr.Validation("items", "at least one item is required")
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return apperr.Validation("shipping_address", "is required")
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		return apperr.Validation("payment_method",
			fmt.Sprintf("must be one of %s", strings.Join(models.PaymentMethods, ", ")))
	}
	return nil
}

func (o *Orchestrator) resolveUser(ctx context.Context, userID int64) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.CollaboratorTimeout)
	defer cancel()

	user, err := o.users.GetUser(ctx, userID)
	if err == nil {
		return user, nil
	}

	if apperr.KindOf(err) == apperr.KindInternal {
		return nil, apperr.Collaborator("users", err)
	}
	return nil, err
}

func (o *Orchestrator) priceItems(ctx context.Context, items []models.ItemRequest) ([]models.OrderLineItem, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.CollaboratorTimeout)
	defer cancel()

	lines, err := o.pricer.ValidateAndPriceItems(ctx, items)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Collaborator("catalog", err)
		}
		return nil, err
	}
	return lines, nil
}

// compensate runs the recorded compensations newest first. A release that
// cannot be applied leaves the reservation in the stranded log for the
// reconciler.
func (o *Orchestrator) compensate(ctx context.Context, logger *zap.Logger, exec *Execution, cause error) {
	exec.Status = StatusCompensating

	failed := false
	for i := len(exec.Compensations) - 1; i >= 0; i-- {
		c := exec.Compensations[i]

		cctx, cancel := context.WithTimeout(ctx, o.opts.CompensationTimeout)
		err := o.runCompensation(cctx, c)
		cancel()

		if err == nil {
			exec.Compensations[i].Done = true
			logger.Info("Compensation applied", zap.String("compensation", c.Name))
			continue
		}

		failed = true
		logger.Error("Compensation failed",
			zap.String("compensation", c.Name),
			zap.Any("items", c.Items),
			zap.Error(err),
		)
		o.recordStranded(ctx, logger, exec, c, cause, err)
	}

	if failed {
		exec.Status = StatusStranded
		return
	}
	exec.Status = StatusCompensated
}

func (o *Orchestrator) runCompensation(ctx context.Context, c Compensation) error {
	switch c.Name {
	case compensationReleaseStock:
		return o.ledger.Release(ctx, c.Items)
	default:
		return fmt.Errorf("unknown compensation %q", c.Name)
	}
}

func (o *Orchestrator) recordStranded(ctx context.Context, logger *zap.Logger, exec *Execution, c Compensation, cause, releaseErr error) {
	if o.stranded == nil {
		logger.Error("Stranded reservation not recorded, release manually",
			zap.Any("items", c.Items))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.CompensationTimeout)
	defer cancel()

	reason := fmt.Sprintf("persist order: %v; release: %v", cause, releaseErr)
	rec, err := o.stranded.Record(ctx, exec.ID, c.Items, reason)
	if err != nil {
		logger.Error("Stranded reservation not recorded, release manually",
			zap.Any("items", c.Items),
			zap.Error(err),
		)
		return
	}

	exec.StrandedID = rec.ID
	logger.Error("Reservation stranded",
		zap.String("stranded_id", rec.ID),
		zap.Any("items", c.Items),
	)
}
