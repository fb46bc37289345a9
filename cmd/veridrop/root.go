// Package veridrop is the command-line entry point: flag and environment
// wiring, logging setup and the subcommands operating the proof pipeline.
package veridrop

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "veridrop",
	Short: "Ledger-anchored proof-of-delivery core",
	Long: "veridrop anchors delivery proofs on a distributed ledger, archives full\n" +
		"payloads off-chain and cross-checks them against an independent oracle.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(viper.GetString("log-level")); err != nil {
			return err
		}
		startMetricsListener(viper.GetString("metrics-addr"))
		return nil
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.String("ledger-endpoint", "", "gRPC endpoint of the proof ledger node")
	flags.Bool("ledger-insecure", false, "Dial the ledger without TLS")
	flags.Uint("max-retries", 3, "Maximum retries for transient ledger faults")
	flags.Uint64("block-window", 10, "Block window attached to submitted proofs")
	flags.Duration("confirm-timeout", 30*time.Second, "Bound on the ledger confirmation wait")

	flags.Bool("mock", false, "Fabricate proofs instead of submitting to the ledger")
	flags.String("mock-hash", "", "Preset transaction hash reused in mock mode")

	flags.String("store-url", "", "Base URL of the off-chain payload store")
	flags.Bool("store-disabled", false, "Skip off-chain payload archival")
	flags.Duration("store-timeout", 10*time.Second, "Timeout for off-chain store calls")

	flags.String("oracle-url", "", "Base URL of the cross-verification oracle")
	flags.Duration("oracle-timeout", 10*time.Second, "Timeout for oracle queries")

	flags.String("database-url", "", "Postgres connection URL for delivery records")
	flags.String("keys-dir", ".veridrop/keys", "Directory holding the signing identity")
	flags.Int("max-concurrency", 4, "Bounded concurrency for the reverify sweep")

	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.String("metrics-addr", "", "Prometheus listener address (empty disables)")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("failed to bind flags: %v", err))
	}
	viper.SetEnvPrefix("VERIDROP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging(level string) error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	return nil
}

func startMetricsListener(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		slog.Info("Metrics listener started", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Metrics listener failed", "error", err)
		}
	}()
}
