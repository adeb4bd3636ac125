package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address>",
	Short: "Read a characteristic or descriptor value",
	Long: fmt.Sprintf(`Reads data from a BLE characteristic or descriptor.

Examples:
  # Read Battery Level characteristic
  gattctl read %s --service 180f --char 2a19

  # Read descriptor (Client Characteristic Configuration)
  gattctl read %s --service 180d --char 2a37 --desc 2902

  # Output as hex
  gattctl read %s --service 180f --char 2a19 --hex

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readServiceUUID string
	readCharUUID    string
	readDescUUID    string
	readHex         bool
	readTimeout     time.Duration
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (required)")
	readCmd.Flags().StringVar(&readCharUUID, "char", "", "Characteristic UUID (required)")
	readCmd.Flags().StringVar(&readDescUUID, "desc", "", "Descriptor UUID (reads descriptor instead of characteristic)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string (e.g., 'FF01'); raw bytes by default")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 5*time.Second, "Read timeout")
	readCmd.Flags().Bool("verbose", false, "Verbose output")
	_ = readCmd.MarkFlagRequired("service")
	_ = readCmd.MarkFlagRequired("char")
}

func runRead(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	var data []byte
	if readDescUUID != "" {
		data, err = sess.ReadDescriptor(ctx, readServiceUUID, readCharUUID, readDescUUID)
	} else {
		data, err = sess.Read(ctx, readServiceUUID, readCharUUID)
	}
	if err != nil {
		return err
	}

	if readHex {
		fmt.Println(hex.EncodeToString(data))
		return nil
	}
	_, err = os.Stdout.Write(data)
	return err
}
