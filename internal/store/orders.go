package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

const orderColumns = `id, order_number, user_id, status, total_amount, currency, payment_method,
	shipping_address, billing_address, notes, created_at, updated_at, version`

// OrderStore persists the order aggregate. All of its transactions are local
// to the orders database and never coordinate with the inventory ledger.
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func scanOrder(row rowScanner, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.Currency,
		&order.PaymentMethod,
		&order.ShippingAddress,
		&order.BillingAddress,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
}

// CreateOrder writes header, line items and the initial history entry in one
// transaction. The total is the sum of the line totals and is never
// recomputed afterwards.
func (s *OrderStore) CreateOrder(ctx context.Context, req models.NewOrder) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}

	order := &models.Order{}
	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		total := models.SumLineTotals(req.Items)

		err := scanOrder(tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, status, total_amount, currency, payment_method,
			                     shipping_address, billing_address, notes, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
			 RETURNING `+orderColumns,
			generateOrderNumber(time.Now()), req.UserID, models.OrderStatusCreated, total,
			models.DefaultCurrency, req.PaymentMethod, req.ShippingAddress, req.BillingAddress, req.Notes), order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i, item := range req.Items {
			item.OrderID = order.ID
			err := tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, position, product_id, product_name, product_sku,
				                          quantity, unit_price, line_total)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 RETURNING id`,
				order.ID, i, item.ProductID, item.ProductNameSnapshot, item.SKUSnapshot,
				item.Quantity, item.UnitPriceSnapshot, item.LineTotal).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
			order.Items = append(order.Items, item)
		}

		entry, err := appendHistoryTx(ctx, tx, order.ID, models.OrderStatusCreated, req.Actor, "order created")
		if err != nil {
			return err
		}
		order.History = []models.StatusHistoryEntry{*entry}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order := &models.Order{}

	err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Items, err = s.orderItems(ctx, id); err != nil {
		return nil, err
	}
	if order.History, err = s.orderHistory(ctx, id); err != nil {
		return nil, err
	}
	if order.Refunds, err = s.orderRefunds(ctx, id); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *OrderStore) orderItems(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, product_sku, quantity, unit_price, line_total
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY position`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderLineItem
	for rows.Next() {
		var item models.OrderLineItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductNameSnapshot,
			&item.SKUSnapshot,
			&item.Quantity,
			&item.UnitPriceSnapshot,
			&item.LineTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

func (s *OrderStore) orderHistory(ctx context.Context, orderID int64) ([]models.StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, status, actor, note, created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get status history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusHistoryEntry
	for rows.Next() {
		var entry models.StatusHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Status, &entry.Actor, &entry.Note, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		history = append(history, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return history, nil
}

func (s *OrderStore) orderRefunds(ctx context.Context, orderID int64) ([]models.Refund, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE order_id = $1
		 ORDER BY requested_at DESC, id DESC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get refunds: %w", err)
	}
	defer rows.Close()

	var refunds []models.Refund
	for rows.Next() {
		var refund models.Refund
		if err := scanRefund(rows, &refund); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, refund)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return refunds, nil
}

// GetUserOrders lists every order of a user, newest first.
func (s *OrderStore) GetUserOrders(ctx context.Context, userID int64) ([]models.OrderSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_number, status, total_amount, currency, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get user orders: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

func (s *OrderStore) ListUserOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage[models.OrderSummary], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, apperr.Validation("cursor", err.Error())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_number, status, total_amount, currency, created_at
		 FROM orders
		 WHERE user_id = $1
		   AND (created_at, id) < ($2, $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage[models.OrderSummary]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func scanSummaries(rows *sql.Rows) ([]models.OrderSummary, error) {
	orders := []models.OrderSummary{}
	for rows.Next() {
		var order models.OrderSummary
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.Status, &order.TotalAmount, &order.Currency, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

// TransitionStatus moves an order from one status to another only if it is
// still in the expected source status, and appends the history entry in the
// same transaction.
func (s *OrderStore) TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, actor, note string) (*models.StatusHistoryEntry, error) {
	var entry *models.StatusHistoryEntry

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		entry, err = transitionTx(ctx, tx, orderID, from, to, actor, note)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func transitionTx(ctx context.Context, tx *sql.Tx, orderID int64, from, to models.OrderStatus, actor, note string) (*models.StatusHistoryEntry, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND status = $3`,
		to, orderID, from)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var current models.OrderStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("order", orderID)
			}
			return nil, fmt.Errorf("read order status: %w", err)
		}
		return nil, &apperr.InvalidTransitionError{From: string(current), To: string(to)}
	}

	return appendHistoryTx(ctx, tx, orderID, to, actor, note)
}

func appendHistoryTx(ctx context.Context, tx *sql.Tx, orderID int64, status models.OrderStatus, actor, note string) (*models.StatusHistoryEntry, error) {
	entry := &models.StatusHistoryEntry{
		OrderID: orderID,
		Status:  status,
		Actor:   actor,
		Note:    note,
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_status_history (order_id, status, actor, note, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING id, created_at`,
		orderID, status, actor, note).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append status history: %w", err)
	}

	return entry, nil
}

// StatusCounts returns how many orders sit in each status, including zeros.
func (s *OrderStore) StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OrderStatus]int64, len(models.OrderStatuses))
	for _, status := range models.OrderStatuses {
		counts[status] = 0
	}

	for rows.Next() {
		var status models.OrderStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan order count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return counts, nil
}
