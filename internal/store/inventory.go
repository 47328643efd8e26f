package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

// Ledger is the inventory ledger. Every change to a product's
// (on_hand_quantity, reserved_quantity) pair is a single conditional UPDATE
// that carries its own sufficiency predicate; there is no read-then-write in
// application code.
type Ledger struct {
	db   *sql.DB
	opts database.TxOptions
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, opts: database.DefaultTxOptions()}
}

// CheckAvailability reports free stock per requested product. It never
// mutates and its answer is advisory only.
func (l *Ledger) CheckAvailability(ctx context.Context, items []models.ItemRequest) ([]models.ReservationResult, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT product_id, on_hand_quantity, reserved_quantity
		 FROM inventory
		 WHERE product_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}
	defer rows.Close()

	records := make(map[int64]models.InventoryRecord, len(ids))
	for rows.Next() {
		var rec models.InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.OnHandQuantity, &rec.ReservedQuantity); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		records[rec.ProductID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	results := make([]models.ReservationResult, 0, len(items))
	for _, item := range items {
		results = append(results, availabilityOf(records, item))
	}
	return results, nil
}

func availabilityOf(records map[int64]models.InventoryRecord, item models.ItemRequest) models.ReservationResult {
	result := models.ReservationResult{
		ProductID:         item.ProductID,
		RequestedQuantity: item.Quantity,
	}

	rec, ok := records[item.ProductID]
	switch {
	case item.Quantity <= 0:
		result.Message = "quantity must be positive"
	case !ok:
		result.Message = "product has no inventory record"
	default:
		result.FreeStock = rec.FreeStock()
		result.Satisfied = result.FreeStock >= item.Quantity
		if result.Satisfied {
			result.Message = "in stock"
		} else {
			result.Message = fmt.Sprintf("only %d available", result.FreeStock)
		}
	}
	return result
}

// Reserve holds stock for every item or for none of them. A line that cannot
// be covered rolls back the lines already incremented in the same call.
func (l *Ledger) Reserve(ctx context.Context, items []models.ItemRequest) error {
	batch, err := prepareBatch(items)
	if err != nil {
		return err
	}

	return database.WithRetry(ctx, l.db, l.opts, func(tx *sql.Tx) error {
		for _, item := range batch {
			if err := reserveTx(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Release returns reserved stock, clamping at zero so duplicate compensations
// are harmless.
func (l *Ledger) Release(ctx context.Context, items []models.ItemRequest) error {
	batch, err := prepareBatch(items)
	if err != nil {
		return err
	}

	return database.WithRetry(ctx, l.db, l.opts, func(tx *sql.Tx) error {
		return releaseBatchTx(ctx, tx, batch)
	})
}

// Commit removes fulfilled quantities from both on-hand and reserved.
func (l *Ledger) Commit(ctx context.Context, items []models.ItemRequest) error {
	batch, err := prepareBatch(items)
	if err != nil {
		return err
	}

	return database.WithRetry(ctx, l.db, l.opts, func(tx *sql.Tx) error {
		for _, item := range batch {
			if err := commitTx(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restock adjusts on-hand by delta, which may be negative for shrinkage, but
// never below what is currently reserved.
func (l *Ledger) Restock(ctx context.Context, productID int64, delta int) (*models.InventoryRecord, error) {
	if delta == 0 {
		return nil, apperr.Validation("delta", "must not be zero")
	}

	rec := &models.InventoryRecord{}
	err := l.db.QueryRowContext(ctx,
		`UPDATE inventory
		 SET on_hand_quantity = on_hand_quantity + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE product_id = $2
		   AND on_hand_quantity + $1 >= reserved_quantity
		   AND on_hand_quantity + $1 >= 0
		 RETURNING product_id, on_hand_quantity, reserved_quantity, updated_at, version`,
		delta, productID).Scan(&rec.ProductID, &rec.OnHandQuantity, &rec.ReservedQuantity, &rec.UpdatedAt, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, l.onHandRejection(ctx, productID)
		}
		return nil, fmt.Errorf("restock: %w", err)
	}

	return rec, nil
}

// SetOnHand overwrites on-hand, refusing values below the reserved count.
func (l *Ledger) SetOnHand(ctx context.Context, productID int64, quantity int) (*models.InventoryRecord, error) {
	if quantity < 0 {
		return nil, apperr.Validation("quantity", "must not be negative")
	}

	rec := &models.InventoryRecord{}
	err := l.db.QueryRowContext(ctx,
		`UPDATE inventory
		 SET on_hand_quantity = $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE product_id = $2
		   AND reserved_quantity <= $1
		 RETURNING product_id, on_hand_quantity, reserved_quantity, updated_at, version`,
		quantity, productID).Scan(&rec.ProductID, &rec.OnHandQuantity, &rec.ReservedQuantity, &rec.UpdatedAt, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, l.onHandRejection(ctx, productID)
		}
		return nil, fmt.Errorf("set on hand: %w", err)
	}

	return rec, nil
}

func (l *Ledger) onHandRejection(ctx context.Context, productID int64) error {
	rec, err := l.GetInventory(ctx, productID)
	if err != nil {
		return err
	}
	return apperr.BusinessRule("on_hand_below_reserved",
		fmt.Sprintf("product %d has %d units reserved", productID, rec.ReservedQuantity))
}

func (l *Ledger) GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error) {
	rec := &models.InventoryRecord{}

	err := l.db.QueryRowContext(ctx,
		`SELECT product_id, on_hand_quantity, reserved_quantity, updated_at, version
		 FROM inventory
		 WHERE product_id = $1`,
		productID).Scan(&rec.ProductID, &rec.OnHandQuantity, &rec.ReservedQuantity, &rec.UpdatedAt, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product", productID)
		}
		return nil, fmt.Errorf("get inventory: %w", err)
	}

	return rec, nil
}

// ListLowStock returns active products whose free stock is at or below
// threshold, scarcest first.
func (l *Ledger) ListLowStock(ctx context.Context, threshold int) ([]models.LowStockItem, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT p.id, p.sku, p.name, i.on_hand_quantity, i.reserved_quantity
		 FROM products p
		 JOIN inventory i ON i.product_id = p.id
		 WHERE p.is_active
		   AND i.on_hand_quantity - i.reserved_quantity <= $1
		 ORDER BY i.on_hand_quantity - i.reserved_quantity, p.id`,
		threshold)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	items := []models.LowStockItem{}
	for rows.Next() {
		var item models.LowStockItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Name, &item.OnHandQuantity, &item.ReservedQuantity); err != nil {
			return nil, fmt.Errorf("scan low stock: %w", err)
		}
		item.FreeStock = item.OnHandQuantity - item.ReservedQuantity
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func prepareBatch(items []models.ItemRequest) ([]models.ItemRequest, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}
	return models.NormalizeItems(items)
}

func reserveTx(ctx context.Context, tx *sql.Tx, item models.ItemRequest) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE inventory
		 SET reserved_quantity = reserved_quantity + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE product_id = $2
		   AND on_hand_quantity - reserved_quantity >= $1`,
		item.Quantity, item.ProductID)
	if err != nil {
		return fmt.Errorf("reserve product %d: %w", item.ProductID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		free, err := freeStockTx(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}
		return &apperr.InsufficientStockError{
			ProductID: item.ProductID,
			Requested: item.Quantity,
			Available: free,
		}
	}

	return nil
}

func releaseBatchTx(ctx context.Context, tx *sql.Tx, batch []models.ItemRequest) error {
	for _, item := range batch {
		result, err := tx.ExecContext(ctx,
			`UPDATE inventory
			 SET reserved_quantity = GREATEST(reserved_quantity - $1, 0),
			     updated_at = NOW(),
			     version = version + 1
			 WHERE product_id = $2`,
			item.Quantity, item.ProductID)
		if err != nil {
			return fmt.Errorf("release product %d: %w", item.ProductID, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return apperr.NotFound("product", item.ProductID)
		}
	}
	return nil
}

func commitTx(ctx context.Context, tx *sql.Tx, item models.ItemRequest) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE inventory
		 SET on_hand_quantity = on_hand_quantity - $1,
		     reserved_quantity = reserved_quantity - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE product_id = $2
		   AND reserved_quantity >= $1`,
		item.Quantity, item.ProductID)
	if err != nil {
		return fmt.Errorf("commit product %d: %w", item.ProductID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := freeStockTx(ctx, tx, item.ProductID); err != nil {
			return err
		}
		return apperr.BusinessRule("commit_exceeds_reserved",
			fmt.Sprintf("product %d has fewer than %d units reserved", item.ProductID, item.Quantity))
	}

	return nil
}

func freeStockTx(ctx context.Context, tx *sql.Tx, productID int64) (int, error) {
	var free int
	err := tx.QueryRowContext(ctx,
		`SELECT on_hand_quantity - reserved_quantity FROM inventory WHERE product_id = $1`,
		productID).Scan(&free)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.NotFound("product", productID)
		}
		return 0, fmt.Errorf("read free stock: %w", err)
	}
	return free, nil
}
