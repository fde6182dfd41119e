package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, 95, cfg.PaymentSuccessRate)
	assert.Equal(t, 168*time.Hour, cfg.CartTTL)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("PAYMENT_SUCCESS_RATE", "100")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("PAYMENT_DELAY_MIN", "0s")
	t.Setenv("PAYMENT_DELAY_MAX", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 100, cfg.PaymentSuccessRate)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("success rate", func(t *testing.T) {
		t.Setenv("PAYMENT_SUCCESS_RATE", "120")
		_, err := Load()
		assert.ErrorContains(t, err, "PAYMENT_SUCCESS_RATE")
	})
	t.Run("driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "sqlite")
		_, err := Load()
		assert.ErrorContains(t, err, "STORAGE_DRIVER")
	})
	t.Run("unparsable", func(t *testing.T) {
		t.Setenv("CART_TTL", "a week")
		_, err := Load()
		assert.ErrorContains(t, err, "parse env")
	})
}
