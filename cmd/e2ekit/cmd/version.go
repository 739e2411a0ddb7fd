package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/e2ekit/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stdout, version.Get())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
