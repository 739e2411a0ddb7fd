package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/orchestrator"
)

var setupTimeout time.Duration

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start every suite and wait for Ctrl-C",
	Long: `Start a database and an application for every suite in e2ekit.yml,
apply migrations and seeds, take the initial snapshot, serve the control
plane and write the context file. Everything is torn down on SIGINT or
SIGTERM.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().DurationVar(&setupTimeout, "timeout", 10*time.Minute, "maximum time to bring every suite up")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := orchestrator.Load(loaderOptions()...)
	if err != nil {
		return err
	}
	log := logger.GetGlobalLogger()

	setupCtx, cancel := context.WithTimeout(cmd.Context(), setupTimeout)
	defer cancel()
	run, err := orchestrator.Setup(setupCtx, *cfg,
		orchestrator.WithLogger(log),
		orchestrator.WithSummary(os.Stdout))
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Context written to %s. Press Ctrl-C to stop.\n", run.HandoffPath())
	run.Wait(cmd.Context())
	run.Teardown(context.Background())
	return nil
}
