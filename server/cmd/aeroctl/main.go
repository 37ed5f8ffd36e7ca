// Command aeroctl is the operator CLI for aeroledger-server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	apiHeader string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "aeroctl",
	Short:         "Inspect and operate an aeroledger server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AEROLEDGER_SERVER", "http://localhost:8000"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AEROLEDGER_API_KEY"), "API key for /api routes")
	rootCmd.PersistentFlags().StringVar(&apiHeader, "api-key-header", "x-api-key", "header carrying the API key")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(statusCmd, devicesCmd, historyCmd, auditCmd, alertsCmd, overrideCmd, resetCmd, metricsCmd)
	overrideCmd.AddCommand(overrideSetCmd, overrideClearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
