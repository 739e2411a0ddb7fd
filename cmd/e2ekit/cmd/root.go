// Package cmd provides the CLI commands for e2ekit.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/e2ekit/config"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/version"
)

var (
	configFile string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "e2ekit",
	Short: "e2ekit - isolated environments for end-to-end tests",
	Long: `e2ekit starts one database and one application instance per test suite,
serves a local control plane for snapshots and restores, and writes the
context file that test workers read.

Run "e2ekit up" before the tests and stop it with Ctrl-C afterwards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var svc config.ServiceConfig
		if err := config.LoadConfig("e2ekit", &svc, loaderOptions()...); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			svc.Debug = true
		}
		svc.ApplyDefaults()
		logger.Init(svc.Logging)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version.Get().Short()
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to e2ekit.yml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loaderOptions() []config.LoaderOption {
	var opts []config.LoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	return opts
}
