package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestResolveDisabled(t *testing.T) {
	_, err := Resolve(Config{Enabled: false}, NewMemorySecretStore(), testLogger())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolveTokenSchemePreferred(t *testing.T) {
	secrets := NewMemorySecretStore()
	require.NoError(t, secrets.SetSecret(SecretAccessCode, "ac-123"))
	require.NoError(t, secrets.SetSecret(SecretKey, "legacy-secret"))

	creds, err := Resolve(Config{
		Enabled:               true,
		Environment:           "PRODUCTION",
		APIKey:                "api-key",
		MerchantAccountNumber: "man-1",
		TerminalName:          "term-1",
		MerchantID:            "merchant-1",
	}, secrets, testLogger())
	require.NoError(t, err)
	require.Equal(t, SchemeToken, creds.Scheme)
	require.Equal(t, "ac-123", creds.AccessCode)
	require.False(t, creds.Mock)
	require.Equal(t, "ac-123", creds.WebhookSecret())
}

func TestResolveLegacyFallback(t *testing.T) {
	secrets := NewMemorySecretStore()
	require.NoError(t, secrets.SetSecret(SecretKey, "legacy-secret"))

	creds, err := Resolve(Config{
		Enabled:     true,
		Environment: "PRODUCTION",
		MerchantID:  "merchant-1",
		TerminalID:  "terminal-1",
	}, secrets, testLogger())
	require.NoError(t, err)
	require.Equal(t, SchemeLegacy, creds.Scheme)
	require.Equal(t, "legacy-secret", creds.SecretKey)
	require.Equal(t, "legacy-secret", creds.WebhookSecret())
}

func TestResolveTokenSchemeNeedsSecret(t *testing.T) {
	// API key configured but no access code stored: falls through to legacy,
	// then to placeholders outside production.
	secrets := NewMemorySecretStore()

	creds, err := Resolve(Config{
		Enabled:     true,
		Environment: "SANDBOX",
		APIKey:      "api-key",
	}, secrets, testLogger())
	require.NoError(t, err)
	require.True(t, creds.Mock)
}

func TestResolveProductionRefusesPlaceholders(t *testing.T) {
	_, err := Resolve(Config{
		Enabled:     true,
		Environment: "PRODUCTION",
	}, NewMemorySecretStore(), testLogger())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolveUseMockInProduction(t *testing.T) {
	creds, err := Resolve(Config{
		Enabled:     true,
		Environment: "PRODUCTION",
		UseMock:     true,
	}, NewMemorySecretStore(), testLogger())
	require.NoError(t, err)
	require.True(t, creds.Mock)
}
