package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattlink/session"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address>",
	Short: "Subscribe to characteristic notifications",
	Long: fmt.Sprintf(`Subscribes to notifications or indications of a characteristic and prints
every value change until interrupted or --duration elapses.

Examples:
  # Stream heart rate measurements
  gattctl subscribe %s --service 180d --char 2a37

  # Stop after 30 seconds, print values as hex
  gattctl subscribe %s --service 180d --char 2a37 --duration 30s --hex

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runSubscribe,
}

var (
	subServiceUUID string
	subCharUUID    string
	subHex         bool
	subDuration    time.Duration
)

func init() {
	subscribeCmd.Flags().StringVar(&subServiceUUID, "service", "", "Service UUID (required)")
	subscribeCmd.Flags().StringVar(&subCharUUID, "char", "", "Characteristic UUID (required)")
	subscribeCmd.Flags().BoolVar(&subHex, "hex", false, "Print values as hex")
	subscribeCmd.Flags().DurationVar(&subDuration, "duration", 0, "Stop after this duration (0 = until interrupted)")
	subscribeCmd.Flags().Bool("verbose", false, "Verbose output")
	_ = subscribeCmd.MarkFlagRequired("service")
	_ = subscribeCmd.MarkFlagRequired("char")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sess, cleanup, err := openSession(address, cfg, 0, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if subDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, subDuration)
		defer cancel()
	}

	obs, err := sess.Observe(ctx, subServiceUUID, subCharUUID)
	if err != nil {
		return err
	}
	defer obs.Cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	for {
		select {
		case ev, ok := <-obs.Events():
			if !ok {
				return nil
			}
			switch {
			case ev.Disconnected:
				return &session.ConnectionLostError{Reason: ev.Reason}
			case ev.Err != nil:
				return ev.Err
			default:
				printValue(ev.Data)
			}
		case <-interrupt:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func printValue(data []byte) {
	ts := time.Now().Format("15:04:05.000")
	if subHex {
		fmt.Printf("%s  %s\n", ts, hex.EncodeToString(data))
		return
	}
	fmt.Printf("%s  %q\n", ts, data)
}
