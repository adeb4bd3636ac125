package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattlink/adapter"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <data>",
	Short: "Write data to a characteristic",
	Long: fmt.Sprintf(`Writes data to a BLE characteristic. Data is taken as a UTF-8 string, or as
hex bytes with --hex.

Examples:
  # Acknowledged write
  gattctl write %s "hello" --service 6e400001-b5a3-f393-e0a9-e50e24dcca9e --char 6e400002-b5a3-f393-e0a9-e50e24dcca9e

  # Write hex bytes without response
  gattctl write %s FF01 --hex --no-response --service 180d --char 2a39

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeCharUUID    string
	writeHex         bool
	writeNoResponse  bool
	writeTimeout     time.Duration
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (required)")
	writeCmd.Flags().StringVar(&writeCharUUID, "char", "", "Characteristic UUID (required)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Interpret data as hex string")
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response (unacknowledged)")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 5*time.Second, "Write timeout")
	writeCmd.Flags().Bool("verbose", false, "Verbose output")
	_ = writeCmd.MarkFlagRequired("service")
	_ = writeCmd.MarkFlagRequired("char")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]

	data := []byte(args[1])
	if writeHex {
		decoded, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("invalid hex data: %w", err)
		}
		data = decoded
	}

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

	mode := adapter.WriteWithResponse
	if writeNoResponse {
		mode = adapter.WriteWithoutResponse
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := sess.Write(ctx, writeServiceUUID, writeCharUUID, data, mode); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes\n", len(data))
	return nil
}
