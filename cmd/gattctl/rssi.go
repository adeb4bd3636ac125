package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// rssiCmd represents the rssi command
var rssiCmd = &cobra.Command{
	Use:   "rssi <device-address>",
	Short: "Read the connection's signal strength",
	Long: fmt.Sprintf(`Connects to a BLE device and reads the RSSI of the live link.

Examples:
  gattctl rssi %s
  gattctl rssi %s --watch 1s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runRSSI,
}

var (
	rssiTimeout time.Duration
	rssiWatch   time.Duration
)

func init() {
	rssiCmd.Flags().DurationVar(&rssiTimeout, "timeout", 5*time.Second, "Read timeout")
	rssiCmd.Flags().DurationVar(&rssiWatch, "watch", 0, "Re-read at this interval until interrupted")
	rssiCmd.Flags().Bool("verbose", false, "Verbose output")
}

func runRSSI(cmd *cobra.Command, args []string) error {
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

	read := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), rssiTimeout)
		defer cancel()
		rssi, err := sess.RSSI(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d dBm\n", rssi)
		return nil
	}

	if err := read(); err != nil {
		return err
	}
	if rssiWatch <= 0 {
		return nil
	}

	ticker := time.NewTicker(rssiWatch)
	defer ticker.Stop()
	for range ticker.C {
		if err := read(); err != nil {
			return err
		}
	}
	return nil
}
