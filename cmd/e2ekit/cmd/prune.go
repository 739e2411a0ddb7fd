package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/e2ekit/config"
	"github.com/kbukum/e2ekit/dbcontainer"
	"github.com/kbukum/e2ekit/logger"
)

var pruneOpts dbcontainer.PruneOptions

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove database containers left behind by crashed runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg struct {
			Database dbcontainer.Config `mapstructure:"database"`
		}
		if err := config.LoadConfig("e2ekit", &cfg, loaderOptions()...); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		j, err := dbcontainer.NewJanitor(cfg.Database.DockerHost, logger.Get(logger.ComponentContainer))
		if err != nil {
			return err
		}
		defer j.Close()

		removed, err := j.Prune(cmd.Context(), pruneOpts)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Fprintln(os.Stdout, "Nothing to prune")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTAINER\tRUN\tSUITE\tSTATE\tAGE")
		for _, l := range removed {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.Name, l.RunID, l.SuiteID, l.State,
				time.Since(l.Created).Round(time.Second))
		}
		if pruneOpts.DryRun {
			fmt.Fprintln(w, "(dry run, nothing removed)")
		}
		return w.Flush()
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOpts.OlderThan, "older-than", 0, "only remove containers older than this")
	pruneCmd.Flags().BoolVar(&pruneOpts.DryRun, "dry-run", false, "list containers without removing them")
	rootCmd.AddCommand(pruneCmd)
}
