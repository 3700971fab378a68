package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blealert/internal/payload"
)

// encodeCmd prints the bytes a phone would receive for an alert
var encodeCmd = &cobra.Command{
	Use:   "encode <level> <message...>",
	Short: "Print the notification payload for an alert",
	Long: `Encodes an alert exactly as the peripheral would send it.

Level is safe, warning, danger or a number.

Examples:
  blealert encode danger "driver is falling asleep"
  blealert encode 1 eyes closing --hex`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEncode,
}

var encodeHex bool

func init() {
	encodeCmd.Flags().BoolVar(&encodeHex, "hex", false, "Output as hex string")
}

func runEncode(cmd *cobra.Command, args []string) error {
	level, err := payload.ParseLevel(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	data := payload.Encode(level, strings.Join(args[1:], " "), cfg.MaxPayloadLength)
	if encodeHex {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
