package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/resolver"
)

var resolveInfo resolver.TestInfo

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Explain which suite a test would run against",
	Long: `Run every resolution strategy against the given test file, project and
base URL and print each attempt as JSON. Exits non-zero when nothing
matched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, doc, err := workerSetup()
		if err != nil {
			return err
		}
		r := resolver.New(doc, nil,
			resolver.WithStrategies(cfg.Resolve.Strategies()...),
			resolver.WithLogger(logger.GetGlobalLogger().WithComponent(logger.ComponentResolver)))

		d := r.Diagnose(resolveInfo)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
		return d.Err()
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveInfo.FilePath, "file", "", "test file path")
	resolveCmd.Flags().StringVar(&resolveInfo.ProjectName, "project", os.Getenv(resolver.EnvProject), "runner project name")
	resolveCmd.Flags().StringVar(&resolveInfo.BaseURL, "base-url", os.Getenv(resolver.EnvBaseURL), "application base URL")
	rootCmd.AddCommand(resolveCmd)
}
