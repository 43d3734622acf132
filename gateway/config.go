package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration. It loads from config.yaml via
// viper with environment-variable overrides (USPGW_ prefix).
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	Gateway struct {
		Enabled     bool   `mapstructure:"enabled"`
		Environment string `mapstructure:"environment"` // SANDBOX or PRODUCTION
		UseMock     bool   `mapstructure:"use_mock"`
		Culture     string `mapstructure:"culture"`

		APIKey                string `mapstructure:"api_key"`
		MerchantAccountNumber string `mapstructure:"merchant_account_number"`
		TerminalName          string `mapstructure:"terminal_name"`
		MerchantID            string `mapstructure:"merchant_id"`
		TerminalID            string `mapstructure:"terminal_id"`
	} `mapstructure:"gateway"`

	DB struct {
		Backend string `mapstructure:"backend"` // pg or mem
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	Reconciler struct {
		StaleAfter time.Duration `mapstructure:"stale_after"`
		SweepEvery time.Duration `mapstructure:"sweep_every"`
		Retention  time.Duration `mapstructure:"retention"`
		PurgeEvery time.Duration `mapstructure:"purge_every"`
	} `mapstructure:"reconciler"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.HTTPAddr = "localhost:9090"
	cfg.Gateway.Environment = "SANDBOX"
	cfg.Gateway.Culture = "es"
	cfg.DB.Backend = "mem"
	cfg.Reconciler.StaleAfter = 10 * time.Minute
	cfg.Reconciler.SweepEvery = time.Hour
	cfg.Reconciler.Retention = 90 * 24 * time.Hour
	cfg.Reconciler.PurgeEvery = 24 * time.Hour
	return cfg
}

// LoadConfig reads config.yaml from path (or the working directory when
// empty), applying defaults for anything unset. Every key is registered as a
// default so USPGW_ environment overrides apply with or without a config file
// (e.g. USPGW_GATEWAY_MERCHANT_ID overrides gateway.merchant_id).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("USPGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("http_addr", defaults.HTTPAddr)
	v.SetDefault("gateway.enabled", defaults.Gateway.Enabled)
	v.SetDefault("gateway.environment", defaults.Gateway.Environment)
	v.SetDefault("gateway.use_mock", defaults.Gateway.UseMock)
	v.SetDefault("gateway.culture", defaults.Gateway.Culture)
	v.SetDefault("gateway.api_key", defaults.Gateway.APIKey)
	v.SetDefault("gateway.merchant_account_number", defaults.Gateway.MerchantAccountNumber)
	v.SetDefault("gateway.terminal_name", defaults.Gateway.TerminalName)
	v.SetDefault("gateway.merchant_id", defaults.Gateway.MerchantID)
	v.SetDefault("gateway.terminal_id", defaults.Gateway.TerminalID)
	v.SetDefault("db.backend", defaults.DB.Backend)
	v.SetDefault("db.dsn", defaults.DB.DSN)
	v.SetDefault("reconciler.stale_after", defaults.Reconciler.StaleAfter)
	v.SetDefault("reconciler.sweep_every", defaults.Reconciler.SweepEvery)
	v.SetDefault("reconciler.retention", defaults.Reconciler.Retention)
	v.SetDefault("reconciler.purge_every", defaults.Reconciler.PurgeEvery)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
