package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/dvt/internal/shell/store"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [project]",
		Short: "Show past backups recorded in the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			return runHistory(c, cmd, project, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of backups to show")
	return cmd
}

func runHistory(c *cli, cmd *cobra.Command, project string, limit int) error {
	if !c.cfg.Catalog.Enabled {
		return fmt.Errorf("backup catalog is disabled")
	}

	catalog, err := openCatalog(c.cfg)
	if err != nil {
		return err
	}
	defer catalog.Close()

	opts := store.ListOptions{Limit: limit}
	var records []store.BackupRecord
	if project != "" {
		records, err = catalog.ListBackupsByProject(cmd.Context(), project, opts)
	} else {
		records, err = catalog.ListBackups(cmd.Context(), opts)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "no backups recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tPROJECT\tVOLUMES\tBUNDLE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime),
			r.Project,
			strings.Join(r.Volumes, ","),
			r.BundlePath,
		)
	}
	return w.Flush()
}

// openCatalog opens the SQLite catalog, creating its directory on first use.
func openCatalog(cfg *Config) (store.Store, error) {
	if dir := filepath.Dir(cfg.Catalog.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create catalog directory: %w", err)
		}
	}
	return store.NewSQLiteStore(cfg.Catalog.Path)
}
