package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLocal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "recovery"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENV is required")
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_SSLMODE is required in production")
	assert.Contains(t, err.Error(), "VAPI_WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	require.NoError(t, c.Validate())
	assert.Equal(t, "disable", c.DB.SSLMode)
	assert.False(t, c.RedisEnabled())
}

func TestValidate_ArchiveKeysTogether(t *testing.T) {
	c := validLocal()
	c.Archive = ArchiveConfig{Bucket: "reports", AccessKey: "ak"}
	assert.Error(t, c.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_NAME", "recovery")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DISPATCH_SHOP_CALL_CAP", "3")
	t.Setenv("STRIPE_PLAN_PRICES", "STARTER:price_s,PRO:price_p")
	t.Setenv("VAPI_TIMEOUT", "5s")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTPAddr())
	assert.Equal(t, 5432, c.DB.Port)
	assert.Equal(t, 3, c.Dispatcher.ShopCallCap)
	assert.Equal(t, 50, c.Dispatcher.BatchLimit)
	assert.Equal(t, "price_p", c.Stripe.PlanPrices["PRO"])
	assert.Equal(t, 5*time.Second, c.Voice.Timeout)
	assert.Equal(t, 15*time.Minute, c.Auth.AccessTokenTTL)
	assert.Contains(t, c.PostgresDSN(), "sslmode=disable")
}

func TestLoadAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_ISSUER", "recovery")
	t.Setenv("JWT_SERVICE_TTL", "720h")

	a, err := LoadAuth()
	require.NoError(t, err)
	assert.Equal(t, "recovery", a.JWTIssuer)
	assert.Equal(t, 15*time.Minute, a.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, a.ServiceTokenTTL)
}
