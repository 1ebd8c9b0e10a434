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

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 10*time.Minute, cfg.Cache.CallbackTTL)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Zero(t, cfg.Billing.RefreshInterval)
	assert.Empty(t, cfg.App.APIKeys)
	assert.False(t, cfg.AuditLog.AuditEnabled())
	assert.True(t, cfg.App.IsDevelopment())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CACHE_TYPE", "redis")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("API_KEYS", "a, ,b")
	t.Setenv("BILLING_REFRESH_INTERVAL", "5m")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "cache:6379", cfg.Cache.RedisAddress())
	assert.Equal(t, []string{"a", "b"}, cfg.App.APIKeys)
	assert.Equal(t, 5*time.Minute, cfg.Billing.RefreshInterval)
	assert.True(t, cfg.AuditLog.AuditEnabled())
}

func TestLoadRejectsUnknownTypes(t *testing.T) {
	t.Setenv("STORE_TYPE", "oracle")
	_, err := Load()
	assert.ErrorContains(t, err, "STORE_TYPE")
}

func TestVerificationKeyPrecedence(t *testing.T) {
	b := BillingConfig{Key: "key", KeyParam: " param "}
	assert.Equal(t, "param", b.VerificationKey())

	b.KeyParam = ""
	assert.Equal(t, "key", b.VerificationKey())
}

func TestDSNs(t *testing.T) {
	s := StoreConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", s.PostgresDSN())

	k := KeyDBConfig{User: "u", Password: "p", Host: "h", Port: 3306, Name: "n"}
	assert.Equal(t, "u:p@tcp(h:3306)/n?parseTime=true", k.DSN())
}
