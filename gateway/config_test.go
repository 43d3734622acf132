package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("USPGW_HTTP_ADDR", "localhost:7777")
	t.Setenv("USPGW_GATEWAY_MERCHANT_ID", "M-42")
	t.Setenv("USPGW_GATEWAY_ENABLED", "true")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "localhost:7777", cfg.HTTPAddr)
	require.Equal(t, "M-42", cfg.Gateway.MerchantID)
	require.True(t, cfg.Gateway.Enabled)

	// Untouched keys keep their defaults.
	require.Equal(t, "SANDBOX", cfg.Gateway.Environment)
	require.Equal(t, "mem", cfg.DB.Backend)
	require.Equal(t, time.Hour, cfg.Reconciler.SweepEvery)
}

func TestLoadConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `http_addr: localhost:8081
gateway:
  enabled: true
  api_key: K-1
  merchant_account_number: MAN-1
reconciler:
  stale_after: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, "localhost:8081", cfg.HTTPAddr)
	require.True(t, cfg.Gateway.Enabled)
	require.Equal(t, "K-1", cfg.Gateway.APIKey)
	require.Equal(t, "MAN-1", cfg.Gateway.MerchantAccountNumber)
	require.Equal(t, 5*time.Minute, cfg.Reconciler.StaleAfter)
	require.Equal(t, 90*24*time.Hour, cfg.Reconciler.Retention)
}
