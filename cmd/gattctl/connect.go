package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/gattlink/adapter/goble"
	"github.com/srg/gattlink/pkg/config"
	"github.com/srg/gattlink/session"
)

const (
	exampleDeviceAddress = "E1:B8:12:61:5F:A2"

	deviceAddressNote = `Note: on macOS the device address is the CoreBluetooth peripheral identifier,
not the public MAC address.`
)

// loadConfig merges the --config file over the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openSession dials the peripheral and returns a connected session plus its
// cleanup function. The cleanup disconnects and shuts the adapter down.
func openSession(address string, cfg *config.Config, connectTimeout time.Duration, logger *logrus.Logger) (*session.Session, func(), error) {
	ad, err := goble.New(logger)
	if err != nil {
		return nil, nil, err
	}

	if connectTimeout <= 0 {
		connectTimeout = cfg.ConnectTimeout.Std()
	}

	sess := session.New(address, ad, session.Options{
		ConnectTimeout:    connectTimeout,
		DisconnectTimeout: cfg.DisconnectTimeout.Std(),
		ServiceFilter:     cfg.ServiceFilter,
	}, session.Hooks{}, logger)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DisconnectTimeout.Std())
		defer cancel()
		if err := sess.Disconnect(ctx); err != nil && logger != nil {
			logger.WithField("error", err).Debug("Disconnect during cleanup")
		}
		_ = sess.Close()
		_ = ad.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return sess, cleanup, nil
}
