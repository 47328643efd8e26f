package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

// StrandedReservations records reservations whose compensating release
// failed. It lives next to the ledger so a resolution can release stock and
// close the record in one transaction.
type StrandedReservations struct {
	db *sql.DB
}

func NewStrandedReservations(db *sql.DB) *StrandedReservations {
	return &StrandedReservations{db: db}
}

func (s *StrandedReservations) Record(ctx context.Context, sagaID string, items []models.ItemRequest, reason string) (*models.StrandedReservation, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal stranded items: %w", err)
	}

	rec := &models.StrandedReservation{
		ID:     uuid.NewString(),
		SagaID: sagaID,
		Items:  items,
		Reason: reason,
		Status: models.StrandedPending,
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO stranded_reservations (id, saga_id, items, reason, attempts, status, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, 0, $5, NOW(), NOW())
		 RETURNING created_at`,
		rec.ID, sagaID, string(payload), reason, models.StrandedPending).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record stranded reservation: %w", err)
	}

	return rec, nil
}

// ListPending returns the oldest pending records that have been attempted
// fewer than maxAttempts times.
func (s *StrandedReservations) ListPending(ctx context.Context, maxAttempts, limit int) ([]models.StrandedReservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, saga_id, items, reason, attempts, status, created_at
		 FROM stranded_reservations
		 WHERE status = $1 AND attempts < $2
		 ORDER BY created_at
		 LIMIT $3`,
		models.StrandedPending, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list stranded reservations: %w", err)
	}
	defer rows.Close()

	var out []models.StrandedReservation
	for rows.Next() {
		var rec models.StrandedReservation
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.SagaID, &payload, &rec.Reason, &rec.Attempts, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stranded reservation: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Items); err != nil {
			return nil, fmt.Errorf("unmarshal stranded items %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Resolve releases the stranded items and closes the record atomically. A
// record that is no longer pending is left untouched, so two reconcilers can
// never release the same reservation twice.
func (s *StrandedReservations) Resolve(ctx context.Context, rec models.StrandedReservation) (bool, error) {
	batch, err := prepareBatch(rec.Items)
	if err != nil {
		return false, err
	}

	resolved := false
	err = database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		resolved = false

		result, err := tx.ExecContext(ctx,
			`UPDATE stranded_reservations
			 SET status = $1, resolved_at = NOW(), updated_at = NOW(), attempts = attempts + 1
			 WHERE id = $2 AND status = $3`,
			models.StrandedResolved, rec.ID, models.StrandedPending)
		if err != nil {
			return fmt.Errorf("close stranded reservation: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil
		}

		if err := releaseBatchTx(ctx, tx, batch); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return resolved, nil
}

func (s *StrandedReservations) MarkAttempt(ctx context.Context, id string, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stranded_reservations
		 SET attempts = attempts + 1, last_error = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		lastError, id, models.StrandedPending)
	if err != nil {
		return fmt.Errorf("mark stranded attempt: %w", err)
	}
	return nil
}
