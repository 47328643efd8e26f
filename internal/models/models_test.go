package models

import (
	"math"
	"testing"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeItemsMergesAndSorts(t *testing.T) {
	got, err := NormalizeItems([]ItemRequest{
		{ProductID: 9, Quantity: 1},
		{ProductID: 2, Quantity: 4},
		{ProductID: 9, Quantity: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []ItemRequest{
		{ProductID: 2, Quantity: 4},
		{ProductID: 9, Quantity: 3},
	}, got)
}

func TestMergeItemsKeepsFirstSeenOrder(t *testing.T) {
	got, err := MergeItems([]ItemRequest{
		{ProductID: 9, Quantity: 1},
		{ProductID: 2, Quantity: 4},
		{ProductID: 9, Quantity: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []ItemRequest{
		{ProductID: 9, Quantity: 3},
		{ProductID: 2, Quantity: 4},
	}, got)
}

func TestMergeItemsRejectsBadQuantities(t *testing.T) {
	tests := []struct {
		name  string
		items []ItemRequest
	}{
		{"zero", []ItemRequest{{ProductID: 1, Quantity: 0}}},
		{"negative", []ItemRequest{{ProductID: 1, Quantity: -2}}},
		{"single line too large", []ItemRequest{{ProductID: 1, Quantity: math.MaxInt32 + 1}}},
		{"max int line", []ItemRequest{{ProductID: 7, Quantity: math.MaxInt}, {ProductID: 7, Quantity: 3}}},
		{"merged total too large", []ItemRequest{{ProductID: 7, Quantity: math.MaxInt32}, {ProductID: 7, Quantity: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeItems(tt.items)
			require.ErrorIs(t, err, apperr.ErrValidation)

			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "quantity", verr.Field)

			_, err = NormalizeItems(tt.items)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestNewOrderLineItemSnapshotsPrice(t *testing.T) {
	product := Product{ID: 7, SKU: "SKU-7", Name: "Choynak", Price: decimal.RequireFromString("12500.50")}

	item := NewOrderLineItem(product, 3)
	product.Price = decimal.NewFromInt(1)

	assert.Equal(t, "Choynak", item.ProductNameSnapshot)
	assert.True(t, item.UnitPriceSnapshot.Equal(decimal.RequireFromString("12500.50")))
	assert.True(t, item.LineTotal.Equal(decimal.RequireFromString("37501.50")))
}

func TestSumLineTotals(t *testing.T) {
	items := []OrderLineItem{
		NewOrderLineItem(Product{ID: 1, Price: decimal.RequireFromString("0.10")}, 3),
		NewOrderLineItem(Product{ID: 2, Price: decimal.RequireFromString("0.20")}, 1),
	}

	assert.True(t, SumLineTotals(items).Equal(decimal.RequireFromString("0.50")))
	assert.Equal(t, []ItemRequest{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 1}}, ItemRequests(items))
}

func TestOrderStatusValid(t *testing.T) {
	assert.True(t, OrderStatusRefunded.Valid())
	assert.False(t, OrderStatus("lost").Valid())
}

func TestFreeStock(t *testing.T) {
	assert.Equal(t, 3, InventoryRecord{OnHandQuantity: 5, ReservedQuantity: 2}.FreeStock())
}

func TestValidPaymentMethod(t *testing.T) {
	assert.True(t, ValidPaymentMethod("payme"))
	assert.False(t, ValidPaymentMethod("bitcoin"))
	assert.False(t, ValidPaymentMethod(""))
}
