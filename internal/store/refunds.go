package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, order_id, amount, reason, status, requested_at, processed_at`

func scanRefund(row rowScanner, refund *models.Refund) error {
	var processedAt sql.NullTime
	err := row.Scan(
		&refund.ID,
		&refund.OrderID,
		&refund.Amount,
		&refund.Reason,
		&refund.Status,
		&refund.RequestedAt,
		&processedAt,
	)
	if err != nil {
		return err
	}
	if processedAt.Valid {
		refund.ProcessedAt = &processedAt.Time
	}
	return nil
}

// CreateRefund inserts a requested refund only while the order is delivered
// and the amount does not exceed the order total. The guard and the insert
// are one statement.
func (s *OrderStore) CreateRefund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*models.Refund, error) {
	refund := &models.Refund{}

	err := scanRefund(s.db.QueryRowContext(ctx,
		`INSERT INTO refunds (order_id, amount, reason, status, requested_at)
		 SELECT id, $2::numeric, $3::text, $4::text, NOW()
		 FROM orders
		 WHERE id = $1
		   AND status = $5
		   AND total_amount >= $2::numeric
		 RETURNING `+refundColumns,
		orderID, amount, reason, models.RefundStatusRequested, models.OrderStatusDelivered), refund)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.refundRejection(ctx, orderID, amount)
		}
		return nil, fmt.Errorf("create refund: %w", err)
	}

	return refund, nil
}

func (s *OrderStore) refundRejection(ctx context.Context, orderID int64, amount decimal.Decimal) error {
	var status models.OrderStatus
	var total decimal.Decimal

	err := s.db.QueryRowContext(ctx,
		`SELECT status, total_amount FROM orders WHERE id = $1`, orderID).Scan(&status, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("order", orderID)
		}
		return fmt.Errorf("read order for refund: %w", err)
	}

	if status != models.OrderStatusDelivered {
		return apperr.BusinessRule("refund_not_allowed",
			fmt.Sprintf("order %d is %s, refunds require delivered", orderID, status))
	}
	return apperr.BusinessRule("refund_exceeds_total",
		fmt.Sprintf("refund %s exceeds order total %s", amount, total))
}

func (s *OrderStore) GetRefund(ctx context.Context, id int64) (*models.Refund, error) {
	refund := &models.Refund{}

	err := scanRefund(s.db.QueryRowContext(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id), refund)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("refund", id)
		}
		return nil, fmt.Errorf("get refund: %w", err)
	}

	return refund, nil
}

// ApproveRefund marks a requested refund approved and moves its order from
// delivered to refunded in the same transaction.
func (s *OrderStore) ApproveRefund(ctx context.Context, refundID int64, actor string) (*models.Refund, *models.StatusHistoryEntry, error) {
	refund := &models.Refund{}
	var entry *models.StatusHistoryEntry

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := moveRefundTx(ctx, tx, refundID, models.RefundStatusRequested, models.RefundStatusApproved, refund); err != nil {
			return err
		}

		var err error
		entry, err = transitionTx(ctx, tx, refund.OrderID,
			models.OrderStatusDelivered, models.OrderStatusRefunded,
			actor, fmt.Sprintf("refund #%d approved", refundID))
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return refund, entry, nil
}

func (s *OrderStore) RejectRefund(ctx context.Context, refundID int64) (*models.Refund, error) {
	return s.moveRefund(ctx, refundID, models.RefundStatusRequested, models.RefundStatusRejected)
}

// MarkRefundProcessed records that the payment collaborator paid out an
// approved refund.
func (s *OrderStore) MarkRefundProcessed(ctx context.Context, refundID int64) (*models.Refund, error) {
	return s.moveRefund(ctx, refundID, models.RefundStatusApproved, models.RefundStatusProcessed)
}

func (s *OrderStore) moveRefund(ctx context.Context, refundID int64, from, to models.RefundStatus) (*models.Refund, error) {
	refund := &models.Refund{}
	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return moveRefundTx(ctx, tx, refundID, from, to, refund)
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

func moveRefundTx(ctx context.Context, tx *sql.Tx, refundID int64, from, to models.RefundStatus, refund *models.Refund) error {
	err := scanRefund(tx.QueryRowContext(ctx,
		`UPDATE refunds
		 SET status = $1, processed_at = NOW()
		 WHERE id = $2 AND status = $3
		 RETURNING `+refundColumns,
		to, refundID, from), refund)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update refund status: %w", err)
	}

	var current models.RefundStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM refunds WHERE id = $1`, refundID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("refund", refundID)
		}
		return fmt.Errorf("read refund status: %w", err)
	}
	return apperr.BusinessRule("refund_status",
		fmt.Sprintf("refund %d is %s, expected %s", refundID, current, from))
}
