package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 10, cfg.MessageRateLimit.Points)
	assert.Equal(t, 60*time.Second, cfg.MessageRateLimit.Window)
	assert.Equal(t, 5*time.Minute, cfg.PresenceTTL)
	assert.Equal(t, 4000, cfg.MaxMessageLength)
	assert.Nil(t, cfg.KafkaBrokers)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RATE_LIMIT_POINTS", "5")
	t.Setenv("RATE_LIMIT_BLOCK", "2s")
	t.Setenv("BUS", "nats")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.RateLimit.Points)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Block)
	assert.Equal(t, "nats", cfg.Bus)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"bad duration", map[string]string{"PRESENCE_TTL": "soon"}},
		{"bad store", map[string]string{"STORE": "sqlite"}},
		{"bad bus", map[string]string{"BUS": "kafka"}},
		{"zero points", map[string]string{"MESSAGE_RATE_LIMIT_POINTS": "0"}},
		{"workspace ttl too long", map[string]string{"WORKSPACE_UNREAD_CACHE_TTL": "5m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
