package commands

import (
	"github.com/mosaicnetworks/s2/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	S2 config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		S2: *config.NewDefaultConfig(),
	}
}
