package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/session"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect services, characteristics, and descriptors of a BLE device",
	Long: fmt.Sprintf(`Connects to a BLE device by address, discovers its full GATT database and
prints it as a tree. Descriptor values captured during discovery are shown
alongside their parsed form where the descriptor type is well known.

Examples:
  gattctl inspect %s
  gattctl inspect %s --json
  gattctl inspect %s --service 180d

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectConnectTimeout time.Duration
	inspectServiceFilter  []string
	inspectVerbose        bool
	inspectJSON           bool
)

func init() {
	inspectCmd.Flags().DurationVar(&inspectConnectTimeout, "connect-timeout", 0, "Connection timeout (default from config)")
	inspectCmd.Flags().StringSliceVar(&inspectServiceFilter, "service", nil, "Restrict discovery to the given service UUID(s)")
	inspectCmd.Flags().BoolVarP(&inspectVerbose, "verbose", "v", false, "Verbose output")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(inspectServiceFilter) > 0 {
		cfg.ServiceFilter = inspectServiceFilter
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	sess, cleanup, err := openSession(address, cfg, inspectConnectTimeout, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	cat, err := sess.Catalog()
	if err != nil {
		return err
	}

	if inspectJSON {
		return printCatalogJSON(cat, sess.MTU())
	}
	printCatalogTree(cat, address, sess.MTU())
	return nil
}

func printCatalogTree(cat *session.Catalog, address string, mtu int) {
	header := color.New(color.Bold)
	svcColor := color.New(color.FgCyan, color.Bold)
	charColor := color.New(color.FgGreen)
	descColor := color.New(color.FgYellow)
	dim := color.New(color.Faint)

	header.Printf("%s", address)
	if mtu > 0 {
		dim.Printf("  (MTU %d)", mtu)
	}
	fmt.Println()

	for _, svc := range cat.Services() {
		svcColor.Printf("└─ service %s", svc.UUID())
		if name := svc.KnownName(); name != "" {
			dim.Printf("  %s", name)
		}
		fmt.Println()

		for _, char := range svc.Characteristics() {
			charColor.Printf("   ├─ characteristic %s", char.UUID())
			if name := char.KnownName(); name != "" {
				dim.Printf("  %s", name)
			}
			dim.Printf("  [%s]", propertyNames(char.Properties()))
			fmt.Println()

			for _, desc := range char.Descriptors() {
				descColor.Printf("   │  ├─ descriptor %s", desc.UUID())
				if name := desc.KnownName(); name != "" {
					dim.Printf("  %s", name)
				}
				if v := desc.Value(); len(v) > 0 {
					dim.Printf("  = %s", hex.EncodeToString(v))
				}
				if parsed := desc.ParsedValue(); parsed != nil {
					dim.Printf("  %s", formatParsed(parsed))
				}
				fmt.Println()
			}
		}
	}
}

func printCatalogJSON(cat *session.Catalog, mtu int) error {
	type descJSON struct {
		UUID   string      `json:"uuid"`
		Name   string      `json:"name,omitempty"`
		Value  string      `json:"value,omitempty"`
		Parsed interface{} `json:"parsed,omitempty"`
	}
	type charJSON struct {
		UUID        string     `json:"uuid"`
		Name        string     `json:"name,omitempty"`
		Properties  string     `json:"properties"`
		Descriptors []descJSON `json:"descriptors,omitempty"`
	}
	type svcJSON struct {
		UUID            string     `json:"uuid"`
		Name            string     `json:"name,omitempty"`
		Characteristics []charJSON `json:"characteristics"`
	}

	out := struct {
		MTU      int       `json:"mtu,omitempty"`
		Services []svcJSON `json:"services"`
	}{MTU: mtu}

	for _, svc := range cat.Services() {
		sj := svcJSON{UUID: svc.UUID(), Name: svc.KnownName()}
		for _, char := range svc.Characteristics() {
			cj := charJSON{
				UUID:       char.UUID(),
				Name:       char.KnownName(),
				Properties: propertyNames(char.Properties()),
			}
			for _, desc := range char.Descriptors() {
				cj.Descriptors = append(cj.Descriptors, descJSON{
					UUID:   desc.UUID(),
					Name:   desc.KnownName(),
					Value:  hex.EncodeToString(desc.Value()),
					Parsed: desc.ParsedValue(),
				})
			}
			sj.Characteristics = append(sj.Characteristics, cj)
		}
		out.Services = append(out.Services, sj)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func propertyNames(p adapter.Property) string {
	names := ""
	add := func(n string) {
		if names != "" {
			names += ","
		}
		names += n
	}
	if p&adapter.PropBroadcast != 0 {
		add("broadcast")
	}
	if p&adapter.PropRead != 0 {
		add("read")
	}
	if p&adapter.PropWriteWithoutResponse != 0 {
		add("write_without_response")
	}
	if p&adapter.PropWrite != 0 {
		add("write")
	}
	if p&adapter.PropNotify != 0 {
		add("notify")
	}
	if p&adapter.PropIndicate != 0 {
		add("indicate")
	}
	if p&adapter.PropSignedWrite != 0 {
		add("signed_write")
	}
	if p&adapter.PropExtended != 0 {
		add("extended")
	}
	return names
}

func formatParsed(v interface{}) string {
	switch p := v.(type) {
	case *session.ClientConfig:
		return fmt.Sprintf("{notifications: %t, indications: %t}", p.Notifications, p.Indications)
	case *session.ExtendedProperties:
		return fmt.Sprintf("{reliable_write: %t, writable_auxiliaries: %t}", p.ReliableWrite, p.WritableAuxiliaries)
	case *session.ServerConfig:
		return fmt.Sprintf("{broadcasts: %t}", p.Broadcasts)
	case *session.PresentationFormat:
		return fmt.Sprintf("{format: 0x%02x, exponent: %d, unit: 0x%04x}", p.Format, p.Exponent, p.Unit)
	case string:
		return fmt.Sprintf("%q", p)
	default:
		return fmt.Sprintf("%v", v)
	}
}
