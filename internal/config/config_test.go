package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://x@localhost/shared")
	t.Setenv("INVENTORY_DATABASE_URL", "")
	t.Setenv("ORDERS_DATABASE_URL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://x@localhost/shared", cfg.Inventory.URL)
	assert.Equal(t, "postgres://x@localhost/shared", cfg.Orders.URL)
	assert.Equal(t, 3*time.Second, cfg.Collaborators.Timeout)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 50, cfg.Reconcile.BatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INVENTORY_DATABASE_URL", "postgres://inv@localhost/inventory")
	t.Setenv("ORDERS_DATABASE_URL", "postgres://ord@localhost/orders")
	t.Setenv("USERS_SERVICE_URL", "http://users.internal:8443/")
	t.Setenv("COLLABORATOR_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://inv@localhost/inventory", cfg.Inventory.URL)
	assert.Equal(t, "postgres://ord@localhost/orders", cfg.Orders.URL)
	assert.Equal(t, "http://users.internal:8443", cfg.Collaborators.UsersServiceURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Collaborators.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 4, cfg.Reconcile.MaxAttempts)
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveReconcileAttempts(t *testing.T) {
	for _, value := range []string{"0", "-3"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("RECONCILE_MAX_ATTEMPTS", value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "RECONCILE_MAX_ATTEMPTS")
		})
	}
}

func TestInvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
}
