package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/artpar/dvt/internal/shell/backup"
	"github.com/artpar/dvt/internal/shell/restore"
	"github.com/artpar/dvt/internal/shell/store"
)

func newBackupCmd(c *cli) *cobra.Command {
	var (
		volumes    []string
		noCompress bool
		outputDir  string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the project's named volumes into a single bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backup.Options{
				Volumes:  volumes,
				Compress: !noCompress,
				Workers:  workers,
			}
			opts.OutputDir = outputDir
			if opts.OutputDir == "" {
				opts.OutputDir = c.cfg.Backup.OutputDir
			}
			if opts.Workers == 0 {
				opts.Workers = c.cfg.Backup.Workers
			}
			return runBackup(c, cmd, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&volumes, "volume", "v", nil, "back up only this volume (repeatable)")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "write plain tar archives instead of tar.gz")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory to write the bundle to")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent volume captures (default from config)")
	return cmd
}

func runBackup(c *cli, cmd *cobra.Command, opts backup.Options) error {
	project, err := c.loadProject()
	if err != nil {
		return err
	}

	engine, err := c.connectEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	writer := backup.NewWriter(engine, c.logger, backup.WriterConfig{
		Timeout: c.cfg.Backup.Timeout,
	})

	bundlePath, err := writer.Backup(cmd.Context(), project, opts)
	if err != nil {
		return err
	}

	c.recordBackup(cmd, project.Name, bundlePath, opts)

	fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", bundlePath)
	return nil
}

// recordBackup writes the produced bundle into the catalog. The bundle is
// already on disk, so catalog failures only warn.
func (c *cli) recordBackup(cmd *cobra.Command, project, bundlePath string, opts backup.Options) {
	if !c.cfg.Catalog.Enabled {
		return
	}

	catalog, err := openCatalog(c.cfg)
	if err != nil {
		c.logger.Warn("cannot open backup catalog", "path", c.cfg.Catalog.Path, "error", err)
		return
	}
	defer catalog.Close()

	metadata, err := restore.Validate(bundlePath)
	if err != nil {
		c.logger.Warn("cannot read bundle metadata for catalog", "error", err)
		return
	}

	volumes := make([]string, 0, len(metadata.Volumes))
	for _, v := range metadata.Volumes {
		volumes = append(volumes, v.BackingName)
	}

	record := &store.BackupRecord{
		ID:         uuid.NewString(),
		Project:    project,
		BundlePath: bundlePath,
		Compressed: opts.Compress,
		Volumes:    volumes,
		CreatedAt:  metadata.CreatedAt,
	}
	if err := catalog.SaveBackup(cmd.Context(), record); err != nil {
		c.logger.Warn("cannot record backup in catalog", "error", err)
	}
}
