package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-flow/internal/payment"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Empty(t, cfg.Policy.PayRules)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  driver: memory
stripe:
  enabled: true
  api_key: sk_test_file
circuit_breaker:
  failure_threshold: 5
  reset_timeout: 1m
policy:
  pay_rules:
    - id: too-large
      expression: "amount > 100000"
      priority: 1
      status: FAILED
      message: amount above limit
`)
	t.Setenv("PAYFLOW_STRIPE_API_KEY", "sk_test_env")
	t.Setenv("PAYFLOW_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "sk_test_env", cfg.Stripe.APIKey, "environment overrides the file")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.CircuitBreaker.ResetTimeout)

	require.Len(t, cfg.Policy.PayRules, 1)
	rule := cfg.Policy.PayRules[0]
	assert.Equal(t, "too-large", rule.ID)
	assert.Equal(t, payment.StatusFailed, rule.Status)
	assert.Equal(t, "amount above limit", rule.Message)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Database: DatabaseConfig{Driver: "sqlite", DSN: "file:x.db"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "MemoryNeedsNoDSN", mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: "memory"} }},
		{name: "UnknownDriver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
		{name: "MissingDSN", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: "database.dsn is required"},
		{name: "StripeWithoutKey", mutate: func(c *Config) { c.Stripe.Enabled = true }, wantErr: "stripe.api_key is required"},
		{name: "KafkaWithoutTopic", mutate: func(c *Config) {
			c.Kafka = KafkaConfig{Enabled: true, Brokers: []string{"k:9092"}}
		}, wantErr: "kafka.brokers and kafka.topic are required"},
		{name: "RedisWithoutAddr", mutate: func(c *Config) { c.Redis.Enabled = true }, wantErr: "redis.addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
