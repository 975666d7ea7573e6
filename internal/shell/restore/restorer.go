// Package restore implements the archive reader: it validates a backup
// bundle and replays its member archives into engine volumes, one volume at a
// time, reporting per-volume outcomes instead of aborting on first failure.
package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/dvt/internal/core/bundle"
	"github.com/artpar/dvt/internal/shell/archive"
	"github.com/artpar/dvt/internal/shell/docker"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrUnknownVolume is returned when a requested volume name matches nothing
// in the bundle's metadata.
var ErrUnknownVolume = errors.New("volume not present in bundle")

// CorruptBundleError reports a bundle that failed validation before any
// volume was touched.
type CorruptBundleError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptBundleError) Error() string {
	return fmt.Sprintf("corrupt bundle %s: %s", e.Path, e.Reason)
}

func (e *CorruptBundleError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Report Types
// =============================================================================

// Status is the outcome of one volume's restore.
type Status string

const (
	StatusRestored Status = "restored"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Result records the outcome for one volume.
type Result struct {
	Logical string
	Backing string
	Status  Status
	Detail  string // reason for a skip or failure; empty when restored
}

// Report is the outcome of a whole restore run.
type Report struct {
	Project   string
	CreatedAt time.Time
	Results   []Result
}

func (r *Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

func (r *Report) Restored() int { return r.count(StatusRestored) }
func (r *Report) Skipped() int  { return r.count(StatusSkipped) }
func (r *Report) Failed() int   { return r.count(StatusFailed) }

// =============================================================================
// Restorer
// =============================================================================

// Options controls one restore run.
type Options struct {
	Volumes []string // logical or backing names; empty means all
	Force   bool     // replace volumes that already exist
}

// RestorerConfig holds the restorer's engine-facing settings.
type RestorerConfig struct {
	Image   string        // transient container image; DefaultImage when empty
	Timeout time.Duration // per-volume restore timeout; 0 means none
}

// Restorer replays backup bundles through a container engine.
type Restorer struct {
	engine  docker.Engine
	logger  *slog.Logger
	image   string
	timeout time.Duration
}

// NewRestorer creates a Restorer.
func NewRestorer(engine docker.Engine, logger *slog.Logger, cfg RestorerConfig) *Restorer {
	image := cfg.Image
	if image == "" {
		image = docker.DefaultImage
	}
	return &Restorer{
		engine:  engine,
		logger:  logger,
		image:   image,
		timeout: cfg.Timeout,
	}
}

// Validate checks a bundle without touching any volume and returns its
// metadata. It verifies the bundle extracts to a single directory, carries a
// well-formed metadata document, and contains every member archive the
// metadata lists.
func Validate(bundlePath string) (*bundle.Metadata, error) {
	_, metadata, cleanup, err := open(bundlePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return metadata, nil
}

// Validate checks a bundle without touching any volume.
func (r *Restorer) Validate(bundlePath string) (*bundle.Metadata, error) {
	return Validate(bundlePath)
}

// Restore replays the selected volumes of a bundle. Validation failures abort
// the run before any volume is touched; after that each volume is restored
// independently and failures are recorded in the report rather than returned.
func (r *Restorer) Restore(ctx context.Context, bundlePath string, opts Options) (*Report, error) {
	dir, metadata, cleanup, err := open(bundlePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	selected, err := selectVolumes(metadata, opts.Volumes)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Project:   metadata.Project,
		CreatedAt: metadata.CreatedAt,
	}

	r.logger.Info("starting restore",
		"project", metadata.Project,
		"bundle", bundlePath,
		"volumes", len(selected),
	)

	for _, vm := range selected {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("restore cancelled: %w", err)
		}
		result := r.restoreVolume(vm, dir, opts.Force)
		report.Results = append(report.Results, result)
		switch result.Status {
		case StatusRestored:
			r.logger.Info("restored volume", "volume", vm.BackingName)
		case StatusSkipped:
			r.logger.Info("skipped volume", "volume", vm.BackingName, "reason", result.Detail)
		case StatusFailed:
			r.logger.Error("failed to restore volume", "volume", vm.BackingName, "reason", result.Detail)
		}
	}

	r.logger.Info("restore complete",
		"restored", report.Restored(),
		"skipped", report.Skipped(),
		"failed", report.Failed(),
	)
	return report, nil
}

// selectVolumes resolves the requested names against the metadata, or returns
// every volume when no filter is given.
func selectVolumes(metadata *bundle.Metadata, names []string) ([]bundle.VolumeMeta, error) {
	if len(names) == 0 {
		return metadata.Volumes, nil
	}
	seen := make(map[string]bool)
	selected := make([]bundle.VolumeMeta, 0, len(names))
	for _, name := range names {
		vm, ok := metadata.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownVolume)
		}
		if seen[vm.BackingName] {
			continue
		}
		seen[vm.BackingName] = true
		selected = append(selected, vm)
	}
	return selected, nil
}

// =============================================================================
// Bundle Validation
// =============================================================================

// open extracts bundlePath into a temporary directory and validates its
// shape. The returned cleanup removes the extraction; the caller must always
// run it.
func open(bundlePath string) (string, *bundle.Metadata, func(), error) {
	if _, err := os.Stat(bundlePath); err != nil {
		return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: "bundle file not readable", Err: err}
	}

	tmp, err := os.MkdirTemp("", "dvt-restore-*")
	if err != nil {
		return "", nil, nil, err
	}
	cleanup := func() { os.RemoveAll(tmp) }

	if err := archive.Extract(bundlePath, tmp); err != nil {
		cleanup()
		return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: "not a readable tar archive", Err: err}
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		cleanup()
		return "", nil, nil, err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		cleanup()
		return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: "bundle must contain exactly one top-level directory"}
	}
	dir := filepath.Join(tmp, entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, bundle.MetadataFileName))
	if err != nil {
		cleanup()
		return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: "missing " + bundle.MetadataFileName, Err: err}
	}

	var metadata bundle.Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		cleanup()
		return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: "malformed " + bundle.MetadataFileName, Err: err}
	}
	if err := metadata.Validate(); err != nil {
		cleanup()
		return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: err.Error(), Err: err}
	}

	for _, vm := range metadata.Volumes {
		if _, err := os.Stat(filepath.Join(dir, vm.Archive)); err != nil {
			cleanup()
			return "", nil, nil, &CorruptBundleError{Path: bundlePath, Reason: "missing member archive " + vm.Archive, Err: err}
		}
	}

	return dir, &metadata, cleanup, nil
}

// =============================================================================
// Per-Volume Restore
// =============================================================================

// restoreVolume replays one member archive into its volume. A volume created
// during this call is removed again if the data replay fails, so a failed
// restore never leaves an empty volume behind.
func (r *Restorer) restoreVolume(vm bundle.VolumeMeta, dir string, force bool) Result {
	result := Result{Logical: vm.LogicalName, Backing: vm.BackingName}

	exists, err := r.engine.VolumeExists(vm.BackingName)
	if err != nil {
		result.Status = StatusFailed
		result.Detail = err.Error()
		return result
	}
	if exists && !force {
		result.Status = StatusSkipped
		result.Detail = "volume already exists"
		return result
	}
	if exists {
		if err := r.engine.RemoveVolume(vm.BackingName, true); err != nil {
			result.Status = StatusFailed
			result.Detail = fmt.Sprintf("remove existing volume: %v", err)
			return result
		}
	}

	if err := r.engine.CreateVolume(vm.BackingName); err != nil {
		result.Status = StatusFailed
		result.Detail = fmt.Sprintf("create volume: %v", err)
		return result
	}

	if err := r.replay(vm, dir); err != nil {
		// Don't leave a half-filled volume behind.
		if rmErr := r.engine.RemoveVolume(vm.BackingName, true); rmErr != nil {
			r.logger.Error("failed to remove volume after failed restore",
				"volume", vm.BackingName, "error", rmErr)
		}
		result.Status = StatusFailed
		result.Detail = err.Error()
		return result
	}

	result.Status = StatusRestored
	return result
}

// replay extracts one member archive into its volume via a transient
// container. The extracted bundle directory is bind-mounted read-only.
func (r *Restorer) replay(vm bundle.VolumeMeta, dir string) error {
	flags := "xf"
	if strings.HasSuffix(vm.Archive, ".gz") {
		flags = "xzf"
	}

	result, err := r.engine.RunTransient(docker.TransientSpec{
		Image:   r.image,
		Command: []string{"tar", flags, "/backup/" + vm.Archive, "-C", "/volume"},
		Mounts: []docker.Mount{
			{Source: vm.BackingName, Target: "/volume"},
			{Source: dir, Target: "/backup", ReadOnly: true, Bind: true},
		},
		Timeout: r.timeout,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("tar exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
