package orders

import (
	"testing"

	"github.com/nurulloasawear/megasavdo/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTransitionGraph(t *testing.T) {
	legal := map[[2]models.OrderStatus]Effect{
		{models.OrderStatusCreated, models.OrderStatusConfirmed}:   EffectNone,
		{models.OrderStatusCreated, models.OrderStatusCancelled}:   EffectReleaseStock,
		{models.OrderStatusConfirmed, models.OrderStatusPreparing}: EffectNone,
		{models.OrderStatusConfirmed, models.OrderStatusCancelled}: EffectReleaseStock,
		{models.OrderStatusPreparing, models.OrderStatusShipped}:   EffectCommitStock,
		{models.OrderStatusShipped, models.OrderStatusDelivered}:   EffectNone,
		{models.OrderStatusDelivered, models.OrderStatusRefunded}:  EffectRefundOnly,
	}

	for _, from := range models.OrderStatuses {
		for _, to := range models.OrderStatuses {
			want, wantOK := legal[[2]models.OrderStatus{from, to}]
			got, ok := Lookup(from, to)

			assert.Equal(t, wantOK, ok, "%s -> %s", from, to)
			if wantOK {
				assert.Equal(t, want, got, "%s -> %s", from, to)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminal(models.OrderStatusCancelled))
	assert.True(t, IsTerminal(models.OrderStatusRefunded))
	assert.False(t, IsTerminal(models.OrderStatusCreated))
}

func TestNextStatuses(t *testing.T) {
	assert.Equal(t,
		[]models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusCancelled},
		NextStatuses(models.OrderStatusCreated))
	assert.Empty(t, NextStatuses(models.OrderStatusRefunded))
}
