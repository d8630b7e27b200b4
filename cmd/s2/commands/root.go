package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for S2
var RootCmd = &cobra.Command{
	Use:              "s2",
	Short:            "S2 relay node",
	TraverseChildren: true,
}
