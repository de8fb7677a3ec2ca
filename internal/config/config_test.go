package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
auth:
  jwt_secret: secret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "0.1", cfg.Business.BaseDailyRate)
	assert.Equal(t, "0.075", cfg.Business.InvestmentYield)
	assert.Equal(t, "0.1", cfg.Business.CommissionRate)
	assert.True(t, cfg.Webhook.DedupeReference)
	assert.Equal(t, "ledger_event", cfg.Kafka.Topic.LedgerEvent)
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: secret
mysql:
  host: db.internal
`)
	t.Setenv("PFT_MYSQL_HOST", "10.0.0.8")
	t.Setenv("PFT_SERVER_PORT", "8088")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.8", cfg.MySQL.Host)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: oracle
auth:
  jwt_secret: secret
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 1\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestBusinessRates(t *testing.T) {
	b := BusinessConfig{BaseDailyRate: "0.1", InvestmentYield: "0.075", TokenPrice: "0.1", CommissionRate: "0.1"}
	r, err := b.Rates()
	require.NoError(t, err)
	assert.Equal(t, "0.075", r.InvestmentYield.String())

	b.TokenPrice = "0"
	_, err = b.Rates()
	assert.Error(t, err)

	b.TokenPrice = "abc"
	_, err = b.Rates()
	assert.Error(t, err)
	assert.Panics(t, func() { b.MustRates() })
}
