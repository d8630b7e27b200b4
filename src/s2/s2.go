// Package s2 assembles an S2 relay node from a config.Config: key, stores,
// transport and node.
package s2

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/activity"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/config"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/node"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/tiv"
)

// S2 is a relay node and the resources it owns.
type S2 struct {
	Config     *config.Config
	Node       *node.Node
	Transport  net.Transport
	Headers    tiv.HeaderStore
	Activities activity.Store
	Seeds      []string

	logger *logrus.Entry
}

// NewS2 creates an engine for config. Init must be called before Run.
func NewS2(config *config.Config) *S2 {
	engine := &S2{
		Config: config,
		logger: config.Logger(),
	}

	return engine
}

// Init reads or creates the key, opens the stores and the transport, and
// creates the node.
func (s *S2) Init() error {
	if err := s.initKey(); err != nil {
		return err
	}

	if err := s.initSeeds(); err != nil {
		return err
	}

	if err := s.initStores(); err != nil {
		return err
	}

	if err := s.initTransport(); err != nil {
		return err
	}

	return s.initNode()
}

func (s *S2) initKey() error {
	if s.Config.Key != nil {
		return nil
	}

	if err := os.MkdirAll(s.Config.DataDir, 0700); err != nil {
		return err
	}

	keyfile := keys.NewSimpleKeyfile(s.Config.Keyfile())
	key, created, err := keyfile.ReadOrCreate()
	if err != nil {
		s.logger.WithError(err).Error("Cannot read or create private key")
		return err
	}

	if created {
		s.logger.WithField("path", keyfile.Path()).Info("Created a new key")
	}

	s.Config.Key = key
	return nil
}

// initSeeds merges the configured seeds with those of seeds.json.
func (s *S2) initSeeds() error {
	s.Seeds = append([]string(nil), s.Config.Seeds...)

	seeds, err := presence.NewJSONSeeds(s.Config.DataDir).Seeds()
	switch {
	case os.IsNotExist(err):
		s.logger.Debug("No seeds.json in data directory")
	case err != nil:
		return fmt.Errorf("reading seeds.json: %v", err)
	}

	for _, seed := range seeds {
		s.Seeds = append(s.Seeds, seed.Endpoint)
	}

	if len(s.Seeds) == 0 {
		s.logger.Warn("No seeds configured, waiting for inbound connections")
	}
	return nil
}

func (s *S2) initStores() error {
	if !s.Config.Store {
		s.Headers = tiv.NewInmemHeaderStore()
		s.Activities = activity.NewInmemStore()

		s.logger.Debug("created new in-mem stores")
		return nil
	}

	s.logger.WithField("path", s.Config.DatabaseDir).Debug("Attempting to load or create databases")

	if err := os.MkdirAll(s.Config.DatabaseDir, 0700); err != nil {
		return fmt.Errorf("creating database dir: %v", err)
	}

	headers, err := tiv.NewBadgerHeaderStore(s.Config.HeadersDir(), s.logger.WithField("component", "header-store"))
	if err != nil {
		return err
	}

	activities, err := activity.NewBadgerStore(s.Config.ActivityDir(), s.logger.WithField("component", "activity-store"))
	if err != nil {
		headers.Close()
		return err
	}

	s.Headers = headers
	s.Activities = activities
	return nil
}

func (s *S2) initTransport() error {
	transport, err := net.NewTCPTransport(
		s.Config.BindAddr,
		s.Config.AdvertiseAddr,
		s.Config.TCPTimeout,
		net.DefaultMaxFrameSize,
		s.logger.WithField("component", "transport"),
	)
	if err != nil {
		return err
	}

	s.Transport = transport
	return nil
}

func (s *S2) initNode() error {
	anchor, err := s.anchor()
	if err != nil {
		return err
	}

	conf := node.DefaultConfig()
	conf.DeviceID = s.Config.DeviceID
	conf.MaxOutbound = s.Config.MaxOutbound
	conf.KeepAliveInterval = s.Config.KeepAliveInterval
	conf.Seeds = s.Seeds
	conf.Anchor = anchor
	conf.Relay.InfoQuota = s.Config.InfoQuota
	conf.Relay.DataQuota = s.Config.DataQuota
	conf.Relay.PostageAmount = s.Config.PostageAmount
	conf.Logger = s.logger

	s.logger.WithFields(logrus.Fields{
		"address":  keys.Address(s.Config.Key),
		"listen":   s.Transport.LocalAddr(),
		"seeds":    len(s.Seeds),
		"store":    s.Config.Store,
		"anchor":   anchor.Height,
		"deviceID": conf.DeviceID,
	}).Debug("Creating node")

	s.Node = node.NewNode(conf, s.Config.Key, s.Transport, s.Headers, s.Activities)
	return nil
}

func (s *S2) anchor() (tiv.Anchor, error) {
	anchor := tiv.Anchor{Height: s.Config.AnchorHeight}
	if s.Config.AnchorChecksum == "" {
		if anchor.Height > 0 {
			return anchor, fmt.Errorf("anchor height %d requires a checksum", anchor.Height)
		}
		return anchor, nil
	}

	checksum, err := common.DecodeFromString(s.Config.AnchorChecksum)
	if err != nil {
		return anchor, fmt.Errorf("anchor checksum: %v", err)
	}
	anchor.Checksum = checksum
	return anchor, nil
}

// Run starts the node and blocks until ctx is cancelled, then shuts it down.
func (s *S2) Run(ctx context.Context) error {
	if err := s.Node.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.Node.Shutdown()
	return nil
}
