// Package reconcile retries the stock releases that failed during saga
// compensation.
package reconcile

import (
	"context"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/models"
	"go.uber.org/zap"
)

type Store interface {
	ListPending(ctx context.Context, maxAttempts, limit int) ([]models.StrandedReservation, error)
	Resolve(ctx context.Context, rec models.StrandedReservation) (bool, error)
	MarkAttempt(ctx context.Context, id string, lastError string) error
}

type Reconciler struct {
	store       Store
	logger      *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewReconciler(store Store, logger *zap.Logger, interval time.Duration, batchSize, maxAttempts int) *Reconciler {
	return &Reconciler{
		store:       store,
		logger:      logger.Named("reconcile"),
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// RunOnce processes one batch of pending stranded reservations and returns
// how many were resolved.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ListPending(ctx, r.maxAttempts, r.batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}

		logger := r.logger.With(zap.String("stranded_id", rec.ID), zap.String("saga_id", rec.SagaID))

		ok, err := r.store.Resolve(ctx, rec)
		if err != nil {
			r.markFailed(ctx, logger, rec, err)
			continue
		}
		if !ok {
			// Another reconciler got there first.
			continue
		}

		resolved++
		logger.Info("Stranded reservation released", zap.Any("items", rec.Items))
	}

	return resolved, nil
}

func (r *Reconciler) markFailed(ctx context.Context, logger *zap.Logger, rec models.StrandedReservation, cause error) {
	if err := r.store.MarkAttempt(ctx, rec.ID, cause.Error()); err != nil {
		logger.Error("Failed to record reconcile attempt", zap.Error(err))
		return
	}

	if rec.Attempts+1 >= r.maxAttempts {
		logger.Error("Stranded reservation needs manual release",
			zap.Any("items", rec.Items),
			zap.Int("attempts", rec.Attempts+1),
			zap.Error(cause),
		)
		return
	}
	logger.Warn("Stranded reservation release failed, will retry",
		zap.Int("attempts", rec.Attempts+1),
		zap.Error(cause),
	)
}

// Start runs RunOnce every interval until ctx is done. It blocks.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("Reconcile run failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("Reconcile run finished", zap.Int("resolved", n))
			}
		}
	}
}
