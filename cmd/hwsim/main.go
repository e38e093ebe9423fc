// Hwsim simulates a small board of hardware devices behind a request/reply
// endpoint.
//
// The board carries LEDs (native GPIO or on an MCP23017 expander), a
// temperature sensor and a power regulator. Clients address devices by
// alias over TCP, and optionally over MQTT or WebSocket. Each device runs at
// most one background operation at a time, such as an LED blink.
//
// Usage:
//
//	hwsim [--port 5555] [--config configs/config.yaml]
//	hwsim send --device LED_BLUE --command STATUS
//	hwsim shell
//	hwsim discover
//
// See 'hwsim --help' for every command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, used when it exists.
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command itself serves.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	root := &cobra.Command{
		Use:   "hwsim",
		Short: "Hardware device simulator",
		Long: `A simulator for a small board of LEDs, a temperature sensor, a power
regulator and an MCP23017 expander, driven by typed commands over a
request/reply socket.

Without a subcommand hwsim prints the device address table and serves
requests until interrupted.`,
		Example: `  # Serve on the default port with the built-in board
  hwsim

  # Serve on another port with a custom board
  hwsim --port 6000 --config ./board.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), serveOptions{
				configPath: configPath,
				port:       port,
			}, cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default "+defaultConfigPath+" when present, $HWSIM_CONFIG overrides)")
	root.Flags().IntVarP(&port, "port", "p", 0, "Router port (default from config, 5555)")

	root.AddCommand(
		newSendCmd(&configPath),
		newShellCmd(&configPath),
		newDiscoverCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hwsim %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// getConfigPath picks the config file: the flag, then HWSIM_CONFIG, then
// the default path if it exists. An empty result means built-in defaults.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("HWSIM_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
