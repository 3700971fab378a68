package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blealert/internal/host"
	"github.com/srg/blealert/internal/payload"
	"github.com/srg/blealert/pkg/config"
	"github.com/srg/blealert/pkg/notifier"
)

// serveCmd runs the peripheral until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise the alert peripheral and push alerts",
	Long: `Starts the BLE peripheral and sends alerts to the subscribed phone.

By default a test alert alternating WARNING and DANGER is sent every
--interval, which is enough to check that a phone can connect and receive
notifications. With --stdin, alerts are read from standard input instead,
one "<level>|<message>" per line.

Examples:
  # Connection test: an alert every 30 seconds
  sudo blealert serve

  # Forward alerts produced by another process
  detector | sudo blealert serve --stdin`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveInterval time.Duration
	serveStdin    bool
)

func init() {
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 30*time.Second, "Interval between test alerts")
	serveCmd.Flags().BoolVar(&serveStdin, "stdin", false, "Read \"<level>|<message>\" alerts from standard input")
}

// alertFunc delivers one alert.
type alertFunc func(level payload.Level, message string)

func runServe(cmd *cobra.Command, _ []string) error {
	if serveInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", serveInterval)
	}
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n := notifier.New(cfg, notifier.BlueZ, logger)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Starting "+cfg.DeviceName, n.State)
	progress.Start()
	n.Start(ctx)
	progress.Stop()
	defer func() {
		n.Stop()
		printSummary(cmd.OutOrStdout(), n.Stats())
	}()

	printBanner(cmd.OutOrStdout(), cfg, n.State())

	if serveStdin {
		err = forwardAlerts(ctx, cmd.InOrStdin(), n.SendAlert, logger)
	} else {
		err = sendTestAlerts(ctx, serveInterval, n.SendAlert, logger)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sendTestAlerts alternates WARNING and DANGER alerts every interval until ctx
// is done.
func sendTestAlerts(ctx context.Context, interval time.Duration, send alertFunc, logger *logrus.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for count := 1; ; count++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		level, message := testAlert(count)
		send(level, message)
		logger.WithFields(logrus.Fields{
			"level":   level,
			"message": message,
		}).Info("Sent alert")
	}
}

// testAlert returns the count-th test alert: odd counts warn, even counts
// signal danger.
func testAlert(count int) (payload.Level, string) {
	if count%2 == 1 {
		return payload.Warning, fmt.Sprintf("Sleep warning #%d: driver showing signs of drowsiness", count)
	}
	return payload.Danger, fmt.Sprintf("Danger #%d: driver is falling asleep, pull over now", count)
}

// forwardAlerts sends one alert per input line until EOF or ctx is done.
// Malformed lines are logged and skipped.
func forwardAlerts(ctx context.Context, in io.Reader, send alertFunc, logger *logrus.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			level, message, err := parseAlertLine(line)
			if err != nil {
				logger.WithError(err).WithField("line", line).Warn("Skipping alert")
				continue
			}
			send(level, message)
		}
	}
}

// parseAlertLine parses "<level>|<message>" where level is a name or number.
func parseAlertLine(line string) (payload.Level, string, error) {
	lvl, message, err := payload.Decode([]byte(line))
	if err != nil {
		return 0, "", err
	}
	level, err := payload.ParseLevel(lvl)
	if err != nil {
		return 0, "", err
	}
	return level, message, nil
}

func printBanner(out io.Writer, cfg *config.Config, state host.State) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	fmt.Fprintln(out)
	bold.Fprintf(out, "  BLE alert peripheral: %s\n", cfg.DeviceName)
	fmt.Fprintf(out, "  service         %s\n", cfg.ServiceUUID)
	fmt.Fprintf(out, "  characteristic  %s\n", cfg.CharacteristicUUID)
	fmt.Fprintf(out, "  state           %s\n", stateColor(state).Sprint(state))
	fmt.Fprintln(out)
	cyan.Fprintf(out, "  On the phone, find %q and connect to receive alerts.\n", cfg.DeviceName)
	fmt.Fprintln(out, "  Ctrl+C to stop")
	fmt.Fprintln(out)
}

func stateColor(state host.State) *color.Color {
	switch state {
	case host.StateRunning, host.StateRegistering:
		return color.New(color.FgGreen)
	case host.StateNoAdapter, host.StateRegistrationFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func printSummary(out io.Writer, stats notifier.Stats) {
	fmt.Fprintf(out, "Sent %d alerts, delivered %d", stats.Sent, stats.Delivered)
	var dropped []string
	for _, reason := range []notifier.DropReason{
		notifier.DropNotRunning,
		notifier.DropNoAdapter,
		notifier.DropStopping,
		notifier.DropNotSubscribed,
	} {
		if c := stats.Dropped[reason]; c > 0 {
			dropped = append(dropped, fmt.Sprintf("%s=%d", reason, c))
		}
	}
	if len(dropped) > 0 {
		fmt.Fprintf(out, ", dropped %s", strings.Join(dropped, " "))
	}
	fmt.Fprintln(out)
}
