package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blealert",
	Short: "BLE drowsiness alert peripheral",
	Long: `Runs a Bluetooth Low Energy peripheral that pushes driver alerts to a phone:

- Advertises a single GATT service with one readable, notifiable characteristic
- Encodes alerts as "<level>|<message>" (0=SAFE, 1=WARNING, 2=DANGER)
- Delivers every alert to the subscribed phone, in order

Requires BlueZ and access to the system D-Bus.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(encodeCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("name", "", "Advertised device name")
	rootCmd.PersistentFlags().String("service-uuid", "", "Alert service UUID")
	rootCmd.PersistentFlags().String("char-uuid", "", "Alert characteristic UUID")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
