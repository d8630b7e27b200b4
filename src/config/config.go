package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/s2/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the name of the log file written in the data directory
	// when LogFile is set.
	DefaultLogFile = "s2.log"
)

// Default configuration values.
const (
	DefaultLogLevel          = "info"
	DefaultBindAddr          = "0.0.0.0:10234"
	DefaultTCPTimeout        = 5000 * time.Millisecond
	DefaultDeviceID          = "s2"
	DefaultMaxOutbound       = 8
	DefaultKeepAliveInterval = 45 * time.Second
	DefaultStore             = false
	DefaultInfoQuota         = 10
	DefaultDataQuota         = 3
	DefaultPostageAmount     = 10
)

// Config contains all the configuration properties of an S2 node.
type Config struct {
	// DataDir is the top-level directory containing S2 configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile mirrors the log output into DataDir/s2.log.
	LogFile bool `mapstructure:"log-file"`

	// BindAddr is the local address:port where the node accepts connections
	// from clients and other nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes. It is overridden by the public IP reported by authoritative nodes
	// during the handshake.
	AdvertiseAddr string `mapstructure:"advertise"`

	// TCPTimeout is the dial and write timeout of connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// DeviceID tells this process apart from other devices sharing the same
	// key.
	DeviceID string `mapstructure:"device-id"`

	// Seeds are authoritative endpoints dialed on start, in addition to those
	// listed in DataDir/seeds.json.
	Seeds []string `mapstructure:"seeds"`

	// MaxOutbound is the number of authoritative nodes the relay keeps
	// connections to.
	MaxOutbound int `mapstructure:"max-outbound"`

	// KeepAliveInterval is the period of the node's presence announcements.
	KeepAliveInterval time.Duration `mapstructure:"keepalive"`

	// Store activates persistant storage of block headers and activities.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// InfoQuota and DataQuota bound the envelopes a client can relay before
	// paying postage.
	InfoQuota int `mapstructure:"info-quota"`
	DataQuota int `mapstructure:"data-quota"`

	// PostageAmount is the amount requested from clients over their data
	// quota.
	PostageAmount uint64 `mapstructure:"postage"`

	// AnchorHeight and AnchorChecksum define a trusted block header the header
	// chain is verified from. A zero height verifies from genesis.
	AnchorHeight   uint64 `mapstructure:"anchor-height"`
	AnchorChecksum string `mapstructure:"anchor-checksum"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		BindAddr:          DefaultBindAddr,
		TCPTimeout:        DefaultTCPTimeout,
		DeviceID:          DefaultDeviceID,
		MaxOutbound:       DefaultMaxOutbound,
		KeepAliveInterval: DefaultKeepAliveInterval,
		Store:             DefaultStore,
		DatabaseDir:       DefaultDatabaseDir(),
		InfoQuota:         DefaultInfoQuota,
		DataQuota:         DefaultDataQuota,
		PostageAmount:     DefaultPostageAmount,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level S2 directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// LogPath returns the full path of the log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, DefaultLogFile)
}

// HeadersDir returns the directory of the block header database.
func (c *Config) HeadersDir() string {
	return filepath.Join(c.DatabaseDir, "headers")
}

// ActivityDir returns the directory of the activity database.
func (c *Config) ActivityDir() string {
	return filepath.Join(c.DatabaseDir, "activity")
}

// Logger returns a formatted logrus Entry, with prefix set to "s2".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile {
			c.addFileHook()
		}
	}
	return c.logger.WithField("prefix", "s2")
}

// addFileHook mirrors every level of the output into the log file.
func (c *Config) addFileHook() {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		c.logger.WithError(err).Warn("Cannot create data directory, logging to stderr only")
		return
	}

	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = c.LogPath()
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level S2 config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".S2")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "S2")
		} else {
			return filepath.Join(home, ".s2")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
