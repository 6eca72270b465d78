package commands

import (
	"github.com/hetu-project/pohb/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for pohb
var RootCmd = &cobra.Command{
	Use:              "pohb",
	Short:            "proof of happened-before",
	TraverseChildren: true,
}
