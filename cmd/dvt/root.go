package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/dvt/internal/core/compose"
	"github.com/artpar/dvt/internal/shell/docker"
)

// cli carries the state shared by all subcommands, populated by the root
// command's PersistentPreRunE before any subcommand runs.
type cli struct {
	cfg    *Config
	logger *slog.Logger

	configPath  string
	composeFile string
	projectName string
}

// newRootCmd builds the dvt command tree.
func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "dvt",
		Short:         "Back up and restore Docker Compose named volumes",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = SetupLogger(cfg)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVarP(&c.composeFile, "file", "f", "docker-compose.yml", "compose file")
	root.PersistentFlags().StringVarP(&c.projectName, "project", "p", "", "project name (default: compose file directory name)")

	root.AddCommand(
		newListCmd(c),
		newBackupCmd(c),
		newRestoreCmd(c),
		newHistoryCmd(c),
	)
	return root
}

// =============================================================================
// Shared Helpers
// =============================================================================

// loadProject reads and parses the compose file selected by the global flags.
func (c *cli) loadProject() (*compose.Project, error) {
	content, err := os.ReadFile(c.composeFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read compose file %s: %w", c.composeFile, err)
	}

	name, err := c.resolveProjectName()
	if err != nil {
		return nil, err
	}

	project, err := compose.Parse(content, name)
	if err != nil {
		return nil, err
	}
	return project, nil
}

// resolveProjectName returns the explicit --project value or derives one from
// the compose file's directory, the way compose itself does.
func (c *cli) resolveProjectName() (string, error) {
	if c.projectName != "" {
		return c.projectName, nil
	}
	abs, err := filepath.Abs(c.composeFile)
	if err != nil {
		return "", err
	}
	name := strings.ToLower(filepath.Base(filepath.Dir(abs)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("cannot derive a project name from %s, use --project", c.composeFile)
	}
	return name, nil
}

// connectEngine opens the engine client and verifies the daemon is reachable.
// The caller owns the returned engine and must Close it.
func (c *cli) connectEngine() (docker.Engine, error) {
	engine, err := docker.NewDockerEngine(c.cfg.Docker.Host)
	if err != nil {
		return nil, err
	}
	if err := engine.Ping(); err != nil {
		engine.Close()
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return engine, nil
}
