package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/dvt/internal/shell/restore"
)

func newRestoreCmd(c *cli) *cobra.Command {
	var (
		volumes []string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "restore <bundle>",
		Short: "Restore volumes from a backup bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(c, cmd, args[0], restore.Options{
				Volumes: volumes,
				Force:   force,
			})
		},
	}

	cmd.Flags().StringArrayVarP(&volumes, "volume", "v", nil, "restore only this volume (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "replace volumes that already exist")
	return cmd
}

func runRestore(c *cli, cmd *cobra.Command, bundlePath string, opts restore.Options) error {
	engine, err := c.connectEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	restorer := restore.NewRestorer(engine, c.logger, restore.RestorerConfig{
		Timeout: c.cfg.Backup.Timeout,
	})

	report, err := restorer.Restore(cmd.Context(), bundlePath, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VOLUME\tSTATUS\tDETAIL")
	for _, result := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", result.Backing, result.Status, result.Detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d restored, %d skipped, %d failed\n",
		report.Restored(), report.Skipped(), report.Failed())

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d volume(s) failed to restore", n)
	}
	return nil
}
