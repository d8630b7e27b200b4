package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/s2/src/s2"
	"github.com/mosaicnetworks/s2/src/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts an S2 node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runS2,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runS2(cmd *cobra.Command, args []string) error {
	logger := _config.S2.Logger()

	engine := s2.NewS2(&_config.S2)

	if err := engine.Init(); err != nil {
		logger.Error("Cannot initialize engine: ", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.WithField("signal", sig).Info("Stopping node")
		cancel()
	}()

	logger.WithField("version", version.Version).Info("Starting S2")

	return engine.Run(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.S2.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.S2.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", _config.S2.LogFile, "Mirror the log output into [datadir]/s2.log")
	cmd.Flags().String("device-id", _config.S2.DeviceID, "Identifier of this device among those sharing the key")

	// Network
	cmd.Flags().StringP("listen", "l", _config.S2.BindAddr, "Listen IP:Port for s2 node")
	cmd.Flags().StringP("advertise", "a", _config.S2.AdvertiseAddr, "Advertise IP:Port for s2 node")
	cmd.Flags().DurationP("timeout", "t", _config.S2.TCPTimeout, "TCP Timeout")
	cmd.Flags().StringSlice("seeds", _config.S2.Seeds, "IP:Port of authoritative nodes to connect to")
	cmd.Flags().Int("max-outbound", _config.S2.MaxOutbound, "Number of authoritative nodes to stay connected to")
	cmd.Flags().Duration("keepalive", _config.S2.KeepAliveInterval, "Time between presence announcements")

	// Store
	cmd.Flags().Bool("store", _config.S2.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.S2.DatabaseDir, "Dabatabase directory")

	// Relay
	cmd.Flags().Int("info-quota", _config.S2.InfoQuota, "Info envelopes relayed before a data envelope is required")
	cmd.Flags().Int("data-quota", _config.S2.DataQuota, "Data envelopes relayed before postage is required")
	cmd.Flags().Uint64("postage", _config.S2.PostageAmount, "Postage requested from clients over quota")

	// Header chain
	cmd.Flags().Uint64("anchor-height", _config.S2.AnchorHeight, "Height of the trusted block header")
	cmd.Flags().String("anchor-checksum", _config.S2.AnchorChecksum, "Hex checksum of the trusted block header")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.S2.SetDataDir(_config.S2.DataDir)

	logFields := logrus.Fields{
		"s2.DataDir":           _config.S2.DataDir,
		"s2.BindAddr":          _config.S2.BindAddr,
		"s2.AdvertiseAddr":     _config.S2.AdvertiseAddr,
		"s2.TCPTimeout":        _config.S2.TCPTimeout,
		"s2.DeviceID":          _config.S2.DeviceID,
		"s2.Seeds":             _config.S2.Seeds,
		"s2.MaxOutbound":       _config.S2.MaxOutbound,
		"s2.KeepAliveInterval": _config.S2.KeepAliveInterval,
		"s2.Store":             _config.S2.Store,
		"s2.LogLevel":          _config.S2.LogLevel,
		"s2.LogFile":           _config.S2.LogFile,
		"s2.InfoQuota":         _config.S2.InfoQuota,
		"s2.DataQuota":         _config.S2.DataQuota,
		"s2.PostageAmount":     _config.S2.PostageAmount,
		"s2.AnchorHeight":      _config.S2.AnchorHeight,
	}

	if _config.S2.Store {
		logFields["s2.DatabaseDir"] = _config.S2.DatabaseDir
	}

	_config.S2.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/s2.toml (.json, .yaml also work)
	viper.SetConfigName("s2")               // name of config file (without extension)
	viper.AddConfigPath(_config.S2.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.S2.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.S2.Logger().Debugf("No config file found in: %s", _config.S2.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
