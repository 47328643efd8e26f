package store

import (
	"context"
	"testing"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProductCreatesInventoryRecord(t *testing.T) {
	db := newInventoryDB(t)
	catalog := NewCatalog(db)

	ctx := context.Background()
	product, err := catalog.CreateProduct(ctx, "TEA-1", "Ko'k choy", "100g", decimal.RequireFromString("12500.50"), 7)
	require.NoError(t, err)
	assert.True(t, product.IsActive)
	assert.True(t, decimal.RequireFromString("12500.50").Equal(product.Price))

	rec, err := NewLedger(db).GetInventory(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.OnHandQuantity)
	assert.Equal(t, 0, rec.ReservedQuantity)
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	db := newInventoryDB(t)
	catalog := NewCatalog(db)

	ctx := context.Background()
	_, err := catalog.CreateProduct(ctx, "DUP", "First", "", decimal.NewFromInt(1), 1)
	require.NoError(t, err)

	_, err = catalog.CreateProduct(ctx, "DUP", "Second", "", decimal.NewFromInt(1), 1)
	require.ErrorIs(t, err, apperr.ErrBusinessRule)
	var rule *apperr.BusinessRuleError
	require.ErrorAs(t, err, &rule)
	assert.Equal(t, "duplicate_sku", rule.Rule)

	page, err := catalog.ListProducts(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestGetProductsByIDs(t *testing.T) {
	db := newInventoryDB(t)
	catalog := NewCatalog(db)
	a := seedProduct(t, catalog, "A", 1)
	b := seedProduct(t, catalog, "B", 1)

	ctx := context.Background()
	products, err := catalog.GetProductsByIDs(ctx, []int64{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, b.ID, products[0].ID)
	assert.Equal(t, a.ID, products[1].ID)

	_, err = catalog.GetProductsByIDs(ctx, []int64{a.ID, 999})
	assert.True(t, apperr.IsNotFound(err, "product"))
}

func TestUpdatePriceOptimisticLock(t *testing.T) {
	db := newInventoryDB(t)
	catalog := NewCatalog(db)
	product := seedProduct(t, catalog, "PRICE-1", 1)

	ctx := context.Background()
	require.NoError(t, catalog.UpdatePrice(ctx, product.ID, decimal.NewFromInt(1500), product.Version))

	err := catalog.UpdatePrice(ctx, product.ID, decimal.NewFromInt(2000), product.Version)
	assert.ErrorIs(t, err, database.ErrOptimisticLockFailed)

	updated, err := catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1500).Equal(updated.Price))

	err = catalog.UpdatePrice(ctx, 999, decimal.NewFromInt(1), 1)
	assert.True(t, apperr.IsNotFound(err, "product"))
}

func TestListProductsPaginates(t *testing.T) {
	db := newInventoryDB(t)
	catalog := NewCatalog(db)
	for _, sku := range []string{"P1", "P2", "P3"} {
		seedProduct(t, catalog, sku, 1)
	}

	page, err := catalog.ListProducts(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 1)
}
