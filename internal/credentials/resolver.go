// Package credentials decides which of the two acquirer credential schemes is
// active and produces a single resolved Credentials value per call. Resolution
// is pure: no globals are mutated and nothing is cached.
package credentials

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// Scheme identifies the credential shape in use.
type Scheme string

const (
	// SchemeToken is the current token-service scheme (SOAP/XML dialect).
	SchemeToken Scheme = "token"
	// SchemeLegacy is the original merchant-id/secret-key scheme (signed REST dialect).
	SchemeLegacy Scheme = "legacy"
)

// Secret key names under which the SecretStore holds credential material.
const (
	SecretAccessCode = "access_code"
	SecretKey        = "secret_key"
)

// Config is the credential-relevant slice of the gateway settings.
type Config struct {
	Enabled     bool
	Environment string // SANDBOX or PRODUCTION
	UseMock     bool

	// Token scheme public fields.
	APIKey                string
	MerchantAccountNumber string
	TerminalName          string

	// Legacy scheme public fields.
	MerchantID string
	TerminalID string
}

// Credentials is the discriminated resolved value handed to the gateway
// client constructors.
type Credentials struct {
	Scheme Scheme

	APIKey                string
	AccessCode            string
	MerchantAccountNumber string
	TerminalName          string

	MerchantID string
	SecretKey  string
	TerminalID string

	// Mock is true when placeholder sandbox credentials were produced; the
	// caller must select the mock client, never the real one.
	Mock bool
}

// ErrNotConfigured mirrors models.ErrNotConfigured at this package boundary so
// the resolver has no dependency on the service layer.
var ErrNotConfigured = fmt.Errorf("gateway not configured")

// Resolve determines the active scheme. Token scheme wins when both are
// configured; a scheme counts as configured only when its public field and its
// secret both resolve to non-empty values. With no usable scheme, production
// refuses to operate while sandbox/mock degrades to placeholder credentials.
func Resolve(cfg Config, secrets SecretStore, logger *slog.Logger) (Credentials, error) {
	if !cfg.Enabled {
		return Credentials{}, fmt.Errorf("gateway is disabled: %w", ErrNotConfigured)
	}

	if cfg.APIKey != "" {
		accessCode, err := secrets.GetSecret(SecretAccessCode)
		if err == nil && accessCode != "" {
			return Credentials{
				Scheme:                SchemeToken,
				APIKey:                cfg.APIKey,
				AccessCode:            accessCode,
				MerchantAccountNumber: cfg.MerchantAccountNumber,
				TerminalName:          cfg.TerminalName,
			}, nil
		}
	}

	if cfg.MerchantID != "" {
		secretKey, err := secrets.GetSecret(SecretKey)
		if err == nil && secretKey != "" {
			if logger != nil {
				logger.Info("legacy credential scheme in use; migration to the token scheme is recommended",
					slog.String("merchant_id", mask(cfg.MerchantID)))
			}
			return Credentials{
				Scheme:     SchemeLegacy,
				MerchantID: cfg.MerchantID,
				SecretKey:  secretKey,
				TerminalID: cfg.TerminalID,
			}, nil
		}
	}

	if cfg.Environment != "PRODUCTION" || cfg.UseMock {
		if logger != nil {
			logger.Info("no credential scheme configured; using sandbox placeholders",
				slog.String("environment", cfg.Environment))
		}
		return Credentials{
			Scheme:     SchemeLegacy,
			MerchantID: "SANDBOX_MERCHANT",
			SecretKey:  "SANDBOX_SECRET",
			TerminalID: "SANDBOX_TERMINAL",
			Mock:       true,
		}, nil
	}

	return Credentials{}, fmt.Errorf("no credential scheme configured: %w", ErrNotConfigured)
}

// WebhookSecret returns the secret used to verify inbound webhook signatures
// for the resolved scheme.
func (c Credentials) WebhookSecret() string {
	if c.Scheme == SchemeToken {
		return c.AccessCode
	}
	return c.SecretKey
}

func mask(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
