package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesHumanReadableDurations(t *testing.T) {
	path := writeConfigFile(t, `
service_name: order-service
coordination:
  reservation_ttl: 15m
  reservation_sweep: 30s
  idempotency_zombie_age: 1h
  idempotency_retention: 24h
  coupon_state_ttl: 720h
  saga_recovery_min_age: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Coordination.ReservationTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Coordination.ReservationSweep.Std())
	assert.Equal(t, time.Hour, cfg.Coordination.IdempotencyZombieAge.Std())
	assert.Equal(t, 24*time.Hour, cfg.Coordination.IdempotencyRetention.Std())
	assert.Equal(t, 30*24*time.Hour, cfg.Coordination.CouponStateTTL.Std())
	assert.Equal(t, 10*time.Minute, cfg.Coordination.SagaRecoveryMinAge.Std())
	// 未出现在文件里的键保持默认值
	assert.Equal(t, 2*time.Minute, cfg.Coordination.SagaRecoverySweep.Std())
}

func TestLoad_RejectsDurationWithoutUnit(t *testing.T) {
	path := writeConfigFile(t, `
coordination:
  reservation_ttl: 900
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Coordination.ReservationTTL.Std())
	assert.Equal(t, time.Hour, cfg.Coordination.IdempotencyZombieAge.Std())
	assert.Equal(t, 24*time.Hour, cfg.Coordination.IdempotencyPurgeSweep.Std())
	assert.Equal(t, "order-events", cfg.Kafka.OrderEventTopic)
}
