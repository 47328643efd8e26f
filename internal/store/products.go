package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, price, is_active, created_at, updated_at, version`

// Catalog serves product lookups from the inventory database.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// constraintErr turns constraint failures caused by caller input into domain
// errors: a unique violation on <table>_<column>_key becomes the business rule
// duplicate_<column>, a CHECK violation a validation error. Other errors are
// returned unchanged.
func constraintErr(table, entity string, err error) error {
	if constraint, ok := database.UniqueViolation(err); ok {
		column := strings.TrimSuffix(strings.TrimPrefix(constraint, table+"_"), "_key")
		return apperr.BusinessRule("duplicate_"+column,
			fmt.Sprintf("%s with this %s already exists", entity, column))
	}
	if database.IsCheckViolation(err) {
		var pqErr *pq.Error
		errors.As(err, &pqErr)
		return apperr.Validation(entity, pqErr.Message)
	}
	return err
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

// CreateProduct inserts the product and its inventory record in one
// transaction; the record starts with nothing reserved.
func (c *Catalog) CreateProduct(ctx context.Context, sku, name, description string, price decimal.Decimal, initialStock int) (*models.Product, error) {
	if sku == "" || name == "" {
		return nil, apperr.Validation("product", "sku and name are required")
	}
	if price.IsNegative() {
		return nil, apperr.Validation("price", "must not be negative")
	}
	if initialStock < 0 {
		return nil, apperr.Validation("stock", "must not be negative")
	}

	product := &models.Product{}
	err := database.WithTransaction(ctx, c.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		err := scanProduct(tx.QueryRowContext(ctx,
			`INSERT INTO products (sku, name, description, price, is_active, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW(), 1)
			 RETURNING `+productColumns,
			sku, name, description, price), product)
		if err != nil {
			return fmt.Errorf("create product: %w", constraintErr("products", "product", err))
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO inventory (product_id, on_hand_quantity, reserved_quantity, updated_at, version)
			 VALUES ($1, $2, 0, NOW(), 1)`,
			product.ID, initialStock)
		if err != nil {
			return fmt.Errorf("create inventory record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product := &models.Product{}

	err := scanProduct(c.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// GetProductsByIDs returns the requested products in request order and fails
// if any id is unknown.
func (c *Catalog) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]models.Product, len(ids))
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		found[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		product, ok := found[id]
		if !ok {
			return nil, apperr.NotFound("product", id)
		}
		products = append(products, product)
	}
	return products, nil
}

func (c *Catalog) SetProductActive(ctx context.Context, id int64, active bool) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE products
		 SET is_active = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("product", id)
	}
	return nil
}

// UpdatePrice changes the catalog price. Existing orders keep their snapshot.
func (c *Catalog) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, version int) error {
	if price.IsNegative() {
		return apperr.Validation("price", "must not be negative")
	}

	result, err := c.db.ExecContext(ctx,
		`UPDATE products
		 SET price = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		price, id, version)
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := c.GetProduct(ctx, id); err != nil {
			return err
		}
		return database.ErrOptimisticLockFailed
	}

	return nil
}

func (c *Catalog) ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage[models.Product], error) {
	var total int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
