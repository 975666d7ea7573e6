package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/artpar/dvt/internal/shell/archive"
)

// =============================================================================
// Fake Engine
// =============================================================================

// FakeEngine is an in-process Engine for tests. Volumes are directories under
// a root the test owns, and transient tar containers are simulated by running
// the equivalent archive operation on the host. This keeps backup and restore
// tests honest about the bytes they move without needing a daemon.
type FakeEngine struct {
	mu   sync.Mutex
	root string

	volumes map[string]string // volume name -> backing directory

	// FailVolumes makes any transient run touching the named volume fail,
	// simulating a capture or restore failure for that volume.
	FailVolumes map[string]error

	// PingErr makes Ping fail.
	PingErr error

	Runs           []TransientSpec
	CreatedVolumes []string
	RemovedVolumes []string
}

// NewFakeEngine creates a fake engine storing volume data under root.
func NewFakeEngine(root string) *FakeEngine {
	return &FakeEngine{
		root:        root,
		volumes:     make(map[string]string),
		FailVolumes: make(map[string]error),
	}
}

func (f *FakeEngine) Ping() error  { return f.PingErr }
func (f *FakeEngine) Close() error { return nil }

// =============================================================================
// Volume Operations
// =============================================================================

func (f *FakeEngine) CreateVolume(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createVolumeLocked(name)
}

func (f *FakeEngine) createVolumeLocked(name string) error {
	if _, ok := f.volumes[name]; ok {
		return nil
	}
	dir := filepath.Join(f.root, "volumes", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f.volumes[name] = dir
	f.CreatedVolumes = append(f.CreatedVolumes, name)
	return nil
}

func (f *FakeEngine) RemoveVolume(name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, ok := f.volumes[name]
	if !ok {
		return NewEngineError("RemoveVolume", "volume", name, "volume not found", ErrVolumeNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	delete(f.volumes, name)
	f.RemovedVolumes = append(f.RemovedVolumes, name)
	return nil
}

func (f *FakeEngine) VolumeExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok, nil
}

// SeedVolume creates a volume prefilled with the given relative-path files.
func (f *FakeEngine) SeedVolume(name string, files map[string]string) error {
	if err := f.CreateVolume(name); err != nil {
		return err
	}
	f.mu.Lock()
	dir := f.volumes[name]
	f.mu.Unlock()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// VolumeFiles reads a volume's contents back as relative path -> content.
func (f *FakeEngine) VolumeFiles(name string) (map[string]string, error) {
	f.mu.Lock()
	dir, ok := f.volumes[name]
	f.mu.Unlock()
	if !ok {
		return nil, NewEngineError("VolumeFiles", "volume", name, "volume not found", ErrVolumeNotFound)
	}
	files := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	return files, err
}

// =============================================================================
// Transient Containers
// =============================================================================

// RunTransient interprets the tar command a real transient container would
// run and performs it against the fake's directories.
func (f *FakeEngine) RunTransient(spec TransientSpec) (*RunResult, error) {
	f.mu.Lock()
	f.Runs = append(f.Runs, spec)

	for _, m := range spec.Mounts {
		if m.Bind {
			continue
		}
		if err, ok := f.FailVolumes[m.Source]; ok {
			f.mu.Unlock()
			return nil, err
		}
		// The daemon auto-creates volumes mounted into a container.
		if err := f.createVolumeLocked(m.Source); err != nil {
			f.mu.Unlock()
			return nil, err
		}
	}
	f.mu.Unlock()

	if len(spec.Command) < 5 || spec.Command[0] != "tar" {
		return nil, NewEngineError("RunTransient", "container", spec.Name, fmt.Sprintf("fake engine cannot interpret command %v", spec.Command), ErrContainerFailed)
	}

	flags := spec.Command[1]
	archivePath, err := f.hostPath(spec.Mounts, spec.Command[2])
	if err != nil {
		return nil, err
	}
	dirPath, err := f.hostPath(spec.Mounts, spec.Command[4])
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(flags, "c"):
		err = archive.CreateFromDir(archivePath, dirPath, strings.Contains(flags, "z"))
	case strings.Contains(flags, "x"):
		err = archive.Extract(archivePath, dirPath)
	default:
		return nil, NewEngineError("RunTransient", "container", spec.Name, "unsupported tar flags "+flags, ErrContainerFailed)
	}
	if err != nil {
		return &RunResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	return &RunResult{ExitCode: 0}, nil
}

// hostPath maps a container path to the host path behind its mount.
func (f *FakeEngine) hostPath(mounts []Mount, containerPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range mounts {
		if containerPath != m.Target && !strings.HasPrefix(containerPath, m.Target+"/") {
			continue
		}
		base := m.Source
		if !m.Bind {
			base = f.volumes[m.Source]
		}
		rel := strings.TrimPrefix(containerPath, m.Target)
		return filepath.Join(base, filepath.FromSlash(rel)), nil
	}
	return "", NewEngineError("RunTransient", "container", "", fmt.Sprintf("no mount covers path %s", containerPath), ErrContainerFailed)
}
