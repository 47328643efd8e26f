// Package orders is the order status state machine. It owns every status
// change after an order is born, including the refund sub-flow.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/events"
	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/nurulloasawear/megasavdo/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Store interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]models.OrderSummary, error)
	ListUserOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage[models.OrderSummary], error)
	StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error)
	TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, actor, note string) (*models.StatusHistoryEntry, error)
	CreateRefund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*models.Refund, error)
	GetRefund(ctx context.Context, id int64) (*models.Refund, error)
	ApproveRefund(ctx context.Context, refundID int64, actor string) (*models.Refund, *models.StatusHistoryEntry, error)
	RejectRefund(ctx context.Context, refundID int64) (*models.Refund, error)
	MarkRefundProcessed(ctx context.Context, refundID int64) (*models.Refund, error)
}

// Stock is the part of the inventory ledger the state machine drives.
type Stock interface {
	Release(ctx context.Context, items []models.ItemRequest) error
	Commit(ctx context.Context, items []models.ItemRequest) error
}

type Service struct {
	store        Store
	stock        Stock
	publisher    events.Publisher
	logger       *zap.Logger
	stockTimeout time.Duration
}

func NewService(store Store, stock Stock, publisher events.Publisher, logger *zap.Logger, stockTimeout time.Duration) *Service {
	return &Service{
		store:        store,
		stock:        stock,
		publisher:    publisher,
		logger:       logger.Named("orders"),
		stockTimeout: stockTimeout,
	}
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) GetUserOrders(ctx context.Context, userID int64) ([]models.OrderSummary, error) {
	return s.store.GetUserOrders(ctx, userID)
}

func (s *Service) ListUserOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage[models.OrderSummary], error) {
	return s.store.ListUserOrdersCursor(ctx, userID, cursor, limit)
}

func (s *Service) StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error) {
	return s.store.StatusCounts(ctx)
}

// UpdateStatus moves an order along one edge of the transition table. An
// illegal edge fails with InvalidTransitionError and changes nothing. Stock
// side effects run after the status change is committed and are best
// effort: the order status is the system of record.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, to models.OrderStatus, actor, note string) (*models.StatusHistoryEntry, error) {
	if !to.Valid() {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", to))
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	effect, ok := Lookup(order.Status, to)
	if !ok {
		return nil, &apperr.InvalidTransitionError{From: string(order.Status), To: string(to)}
	}
	if effect == EffectRefundOnly {
		return nil, apperr.BusinessRule("refund_required",
			fmt.Sprintf("order %d becomes %s only through an approved refund", orderID, to))
	}

	entry, err := s.store.TransitionStatus(ctx, orderID, order.Status, to, actorOrSystem(actor), note)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.Int64("order_id", orderID))
	logger.Info("Order status changed",
		zap.String("from", string(order.Status)),
		zap.String("to", string(to)),
		zap.String("actor", entry.Actor),
	)

	s.applyEffect(ctx, logger, effect, order)

	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.OrderStatusChanged, orderID, map[string]string{
		"from":  string(order.Status),
		"to":    string(to),
		"actor": entry.Actor,
		"note":  note,
	}))

	return entry, nil
}

func (s *Service) applyEffect(ctx context.Context, logger *zap.Logger, effect Effect, order *models.Order) {
	items := models.ItemRequests(order.Items)
	if len(items) == 0 {
		return
	}

	// The status change is already committed; the stock call must not be cut
	// short by the caller going away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stockTimeout)
	defer cancel()

	switch effect {
	case EffectReleaseStock:
		if err := s.stock.Release(ctx, items); err != nil {
			logger.Error("Failed to release stock for cancelled order, reconcile manually",
				zap.Any("items", items), zap.Error(err))
			return
		}
		logger.Info("Released stock for cancelled order", zap.Int("lines", len(items)))
	case EffectCommitStock:
		if err := s.stock.Commit(ctx, items); err != nil {
			logger.Error("Failed to commit stock for shipped order, reconcile manually",
				zap.Any("items", items), zap.Error(err))
			return
		}
		logger.Info("Committed stock for shipped order", zap.Int("lines", len(items)))
	}
}

// RequestRefund opens a refund for a delivered order. The amount must be
// positive and no larger than the order total.
func (s *Service) RequestRefund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*models.Refund, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount", "must be positive")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason", "is required")
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusDelivered {
		return nil, apperr.BusinessRule("refund_not_allowed",
			fmt.Sprintf("order %d is %s, refunds require delivered", orderID, order.Status))
	}
	if amount.GreaterThan(order.TotalAmount) {
		return nil, apperr.BusinessRule("refund_exceeds_total",
			fmt.Sprintf("refund %s exceeds order total %s", amount, order.TotalAmount))
	}

	refund, err := s.store.CreateRefund(ctx, orderID, amount, reason)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Refund requested",
		zap.Int64("order_id", orderID),
		zap.Int64("refund_id", refund.ID),
		zap.String("amount", amount.String()),
	)
	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.RefundRequested, orderID, refund))

	return refund, nil
}

// ApproveRefund approves a requested refund and drives its order to refunded.
func (s *Service) ApproveRefund(ctx context.Context, refundID int64, actor string) (*models.Refund, error) {
	refund, entry, err := s.store.ApproveRefund(ctx, refundID, actorOrSystem(actor))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Refund approved",
		zap.Int64("order_id", refund.OrderID),
		zap.Int64("refund_id", refund.ID),
	)
	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.RefundApproved, refund.OrderID, refund))
	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.OrderStatusChanged, refund.OrderID, map[string]string{
		"from":  string(models.OrderStatusDelivered),
		"to":    string(entry.Status),
		"actor": entry.Actor,
		"note":  entry.Note,
	}))

	return refund, nil
}

func (s *Service) GetRefund(ctx context.Context, refundID int64) (*models.Refund, error) {
	return s.store.GetRefund(ctx, refundID)
}

func (s *Service) RejectRefund(ctx context.Context, refundID int64) (*models.Refund, error) {
	refund, err := s.store.RejectRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Refund rejected", zap.Int64("order_id", refund.OrderID), zap.Int64("refund_id", refund.ID))
	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.RefundRejected, refund.OrderID, refund))
	return refund, nil
}

func (s *Service) MarkRefundProcessed(ctx context.Context, refundID int64) (*models.Refund, error) {
	refund, err := s.store.MarkRefundProcessed(ctx, refundID)
	if err != nil {
		return nil, err
	}

	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.RefundProcessed, refund.OrderID, refund))
	return refund, nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
