package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/pending"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/relay"
	"github.com/mosaicnetworks/s2/src/tiv"
)

// Config holds the parameters of a Node.
type Config struct {
	// DeviceID identifies this process among the addresses of the node's
	// identity.
	DeviceID string

	MaintenanceInterval time.Duration
	KeepAliveInterval   time.Duration
	StatsInterval       time.Duration
	ShutdownTimeout     time.Duration

	// MaxOutbound is the number of authoritative peers the node stays
	// connected to.
	MaxOutbound int
	// Seeds are the authoritative endpoints dialed at start.
	Seeds []string

	DirectoryTTL     time.Duration
	MaxPresenceChunk int
	PresenceSample   int

	Anchor  tiv.Anchor
	TIV     tiv.Config
	Relay   relay.Config
	Pending pending.Config

	Clock  common.Clock
	Logger *logrus.Entry
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		DeviceID:            "s2",
		MaintenanceInterval: time.Second,
		KeepAliveInterval:   45 * time.Second,
		StatsInterval:       time.Minute,
		ShutdownTimeout:     5 * time.Second,
		MaxOutbound:         8,
		DirectoryTTL:        presence.DefaultTTL,
		MaxPresenceChunk:    10,
		PresenceSample:      10,
		TIV:                 tiv.DefaultConfig(),
		Relay:               relay.DefaultConfig(),
		Pending:             pending.DefaultConfig(),
		Clock:               common.SystemClock{},
		Logger:              logrus.NewEntry(logger),
	}
}

// TestConfig returns a configuration for tests, logging through t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.Logger = common.NewTestEntry(t, common.TestLogLevel)
	return config
}
