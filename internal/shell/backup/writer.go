// Package backup implements the archive writer: it captures every selected
// volume of a compose project into a member archive and bundles the members
// with a metadata document into one dated artifact.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/artpar/dvt/internal/core/bundle"
	"github.com/artpar/dvt/internal/core/compose"
	"github.com/artpar/dvt/internal/shell/archive"
	"github.com/artpar/dvt/internal/shell/docker"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrNoVolumes is returned when the project has no named volumes to back up.
var ErrNoVolumes = errors.New("no named volumes to back up")

// BackupError reports a failed capture. The backup is all-or-nothing: by the
// time this surfaces, partial artifacts have been cleaned up.
type BackupError struct {
	Volume string // backing name of the volume that failed, if any
	Err    error
}

func (e *BackupError) Error() string {
	if e.Volume != "" {
		return fmt.Sprintf("backup of volume %s failed: %v", e.Volume, e.Err)
	}
	return fmt.Sprintf("backup failed: %v", e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Writer
// =============================================================================

// Options controls one backup run.
type Options struct {
	Volumes   []string // logical or backing names; empty means all
	Compress  bool
	OutputDir string
	Workers   int // concurrent captures; values below 1 mean sequential
}

// WriterConfig holds the writer's engine-facing settings.
type WriterConfig struct {
	Image   string        // transient container image; DefaultImage when empty
	Timeout time.Duration // per-volume capture timeout; 0 means none
}

// Writer produces backup bundles through a container engine.
type Writer struct {
	engine  docker.Engine
	logger  *slog.Logger
	image   string
	timeout time.Duration
}

// NewWriter creates a Writer.
func NewWriter(engine docker.Engine, logger *slog.Logger, cfg WriterConfig) *Writer {
	image := cfg.Image
	if image == "" {
		image = docker.DefaultImage
	}
	return &Writer{
		engine:  engine,
		logger:  logger,
		image:   image,
		timeout: cfg.Timeout,
	}
}

// Backup archives the selected named volumes of project into a single bundle
// under opts.OutputDir and returns the bundle path. Source volumes are only
// ever mounted read-only. Any capture failure aborts the whole run and
// removes everything written so far - no partial bundle is left on disk.
func (w *Writer) Backup(ctx context.Context, project *compose.Project, opts Options) (string, error) {
	inventory, err := project.BuildInventory(opts.Volumes)
	if err != nil {
		return "", err
	}
	if len(inventory) == 0 {
		return "", &BackupError{Err: ErrNoVolumes}
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	if outputDir, err = filepath.Abs(outputDir); err != nil {
		return "", &BackupError{Err: err}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &BackupError{Err: err}
	}

	createdAt := time.Now()
	base := bundle.BaseName(project.Name, createdAt)
	workDir := filepath.Join(outputDir, base)
	if err := os.Mkdir(workDir, 0o755); err != nil {
		return "", &BackupError{Err: err}
	}

	w.logger.Info("starting backup",
		"project", project.Name,
		"volumes", len(inventory),
		"compress", opts.Compress,
	)

	if failed, err := w.captureAll(ctx, inventory, workDir, opts); err != nil {
		os.RemoveAll(workDir)
		if failed != "" {
			return "", &BackupError{Volume: failed, Err: err}
		}
		return "", err
	}

	metadata := bundle.New(project.Name, createdAt, inventory, opts.Compress)
	if err := writeMetadata(workDir, metadata); err != nil {
		os.RemoveAll(workDir)
		return "", &BackupError{Err: err}
	}

	bundlePath := filepath.Join(outputDir, bundle.ArchiveName(base, opts.Compress))
	if err := archive.Create(bundlePath, workDir, base, opts.Compress); err != nil {
		os.RemoveAll(workDir)
		os.Remove(bundlePath)
		return "", &BackupError{Err: err}
	}

	if err := os.RemoveAll(workDir); err != nil {
		return "", &BackupError{Err: err}
	}

	w.logger.Info("backup complete", "bundle", bundlePath)
	return bundlePath, nil
}

// captureAll captures every inventory entry into workDir, sequentially or
// with a bounded worker pool. Each worker writes only its own member file, so
// the only synchronization needed is the final join. On failure it returns
// the backing name of the first volume that failed.
func (w *Writer) captureAll(ctx context.Context, inventory compose.Inventory, workDir string, opts Options) (string, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failed   string
		firstErr error
	)
	sem := make(chan struct{}, workers)

	for _, entry := range inventory {
		// Cancellation between volumes: don't start the next capture once
		// the context is done or a sibling has failed.
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return "", fmt.Errorf("backup cancelled: %w", err)
		}
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(entry compose.InventoryEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := w.captureVolume(entry, workDir, opts.Compress); err != nil {
				mu.Lock()
				if firstErr == nil {
					failed = entry.Backing
					firstErr = err
				}
				mu.Unlock()
				return
			}
			w.logger.Info("captured volume", "volume", entry.Backing)
		}(entry)
	}
	wg.Wait()

	return failed, firstErr
}

// captureVolume streams one volume into its member archive via a transient
// container that mounts the volume read-only and the working directory
// read-write.
func (w *Writer) captureVolume(entry compose.InventoryEntry, workDir string, compress bool) error {
	flags := "cf"
	if compress {
		flags = "czf"
	}
	member := bundle.MemberName(entry.Backing, compress)
	volumePath := "/volumes/" + entry.Backing

	result, err := w.engine.RunTransient(docker.TransientSpec{
		Image:   w.image,
		Command: []string{"tar", flags, "/backup/" + member, "-C", volumePath, "."},
		Mounts: []docker.Mount{
			{Source: entry.Backing, Target: volumePath, ReadOnly: true},
			{Source: workDir, Target: "/backup", Bind: true},
		},
		Timeout: w.timeout,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("tar exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// writeMetadata writes the metadata document into the working directory.
func writeMetadata(workDir string, metadata *bundle.Metadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, bundle.MetadataFileName), data, 0o644)
}
