package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/controlplane/client"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/testutil"
	"github.com/kbukum/e2ekit/version"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot SUITE NAME",
	Short: "Take a container-level snapshot of a suite's database",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlPlane()
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.Snapshot(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Snapshot %q of %s taken\n", resp.Name, resp.SuiteID)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore SUITE NAME",
	Short: "Restore a suite's database container and restart its app",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlPlane()
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.Restore(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restored %s to %q\n", resp.SuiteID, resp.Name)
		fmt.Fprintf(os.Stdout, "  app:      %s\n", orNone(resp.AppURL))
		fmt.Fprintf(os.Stdout, "  database: %s\n", connpool.Redact(resp.DatabaseURL))
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache SUITE",
	Short: "Restart a suite's app to drop its in-memory caches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlPlane()
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.ClearCache(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restarted %s at %s\n", resp.SuiteID, orNone(resp.AppURL))
		return nil
	},
}

var suitesCmd = &cobra.Command{
	Use:   "suites",
	Short: "List the running suites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlPlane()
		if err != nil {
			return err
		}
		defer c.Close()
		suites, err := c.Suites(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUITE\tAPP\tDATABASE")
		for _, s := range suites {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.SuiteID, orNone(s.AppURL), connpool.Redact(s.DatabaseURL))
		}
		return w.Flush()
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the control plane and every suite",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlPlane()
		if err != nil {
			return err
		}
		defer c.Close()
		h, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s %s: %s\n", h.Service, h.Version, h.Status)
		if local := version.Get(); h.Build.Version != "" && h.Build.Short() != local.Short() {
			fmt.Fprintf(os.Stderr, "warning: control plane runs %s, this CLI is %s\n", h.Build.Short(), local.Short())
		}
		for _, comp := range h.Components {
			line := fmt.Sprintf("  %-24s %s", comp.Name, comp.Status)
			if comp.Message != "" {
				line += " (" + comp.Message + ")"
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd, restoreCmd, clearCacheCmd, suitesCmd, healthCmd)
}

// workerSetup loads the worker sections of e2ekit.yml and the context file.
func workerSetup() (testutil.Config, *handoff.Document, error) {
	cfg, err := testutil.LoadConfig(loaderOptions()...)
	if err != nil {
		return testutil.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	doc, err := handoff.Read(cfg.Handoff)
	if err != nil {
		return testutil.Config{}, nil, err
	}
	return cfg, doc, nil
}

func controlPlane() (*client.Client, error) {
	cfg, doc, err := workerSetup()
	if err != nil {
		return nil, err
	}
	if doc.ControlPlaneURL == "" {
		return nil, fmt.Errorf("%s has no control plane URL; is `e2ekit up` running?", cfg.Handoff)
	}
	cfg.Client.URL = doc.ControlPlaneURL
	return client.New(cfg.Client, logger.GetGlobalLogger())
}

func orNone(s string) string {
	if s == "" {
		return "(no app)"
	}
	return s
}
