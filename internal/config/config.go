// Package config carries the runtime settings for the proof pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is populated from flags, environment (VERIDROP_ prefix) and an
// optional config file through viper. Toggles select code paths without
// altering component contracts.
type Config struct {
	// Ledger transport.
	LedgerEndpoint string
	LedgerInsecure bool
	MaxRetries     uint
	BlockWindow    uint64
	ConfirmTimeout time.Duration

	// Mock mode replaces live ledger submission.
	MockMode       bool
	MockPresetHash string

	// Off-chain store.
	StoreURL      string
	StoreDisabled bool
	StoreTimeout  time.Duration

	// Cross-verification oracle.
	OracleURL     string
	OracleTimeout time.Duration

	// Persistence collaborator.
	DatabaseURL string

	// Signing identity key directory.
	KeysDir string

	// Bounded concurrency for the reverify sweep.
	MaxConcurrency int

	// Optional prometheus listener ("" disables).
	MetricsAddr string
}

// FromViper reads every bound key into a Config.
func FromViper() Config {
	return Config{
		LedgerEndpoint: viper.GetString("ledger-endpoint"),
		LedgerInsecure: viper.GetBool("ledger-insecure"),
		MaxRetries:     viper.GetUint("max-retries"),
		BlockWindow:    viper.GetUint64("block-window"),
		ConfirmTimeout: viper.GetDuration("confirm-timeout"),
		MockMode:       viper.GetBool("mock"),
		MockPresetHash: viper.GetString("mock-hash"),
		StoreURL:       viper.GetString("store-url"),
		StoreDisabled:  viper.GetBool("store-disabled"),
		StoreTimeout:   viper.GetDuration("store-timeout"),
		OracleURL:      viper.GetString("oracle-url"),
		OracleTimeout:  viper.GetDuration("oracle-timeout"),
		DatabaseURL:    viper.GetString("database-url"),
		KeysDir:        viper.GetString("keys-dir"),
		MaxConcurrency: viper.GetInt("max-concurrency"),
		MetricsAddr:    viper.GetString("metrics-addr"),
	}
}

// Validate checks the combinations the pipeline needs before any network
// dialing happens.
func (c Config) Validate() error {
	if !c.MockMode && c.LedgerEndpoint == "" {
		return fmt.Errorf("ledger endpoint is required outside mock mode")
	}
	if !c.StoreDisabled && c.StoreURL == "" {
		return fmt.Errorf("store URL is required unless the store is disabled")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive, got %s", c.ConfirmTimeout)
	}
	if c.BlockWindow == 0 {
		return fmt.Errorf("block window must be at least 1")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	return nil
}
