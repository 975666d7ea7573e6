// Package docker provides the container-engine capability used to stream
// volume data in and out without host-level access to the volume driver.
package docker

import "time"

// DefaultImage is the image used for transient tar containers.
const DefaultImage = "alpine:latest"

// =============================================================================
// Mount Types
// =============================================================================

// Mount defines a mount for a transient container. Source is a volume name
// unless Bind is set, in which case it is a host path.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
	Bind     bool
}

// =============================================================================
// Transient Containers
// =============================================================================

// TransientSpec describes a short-lived container that runs one command and
// exits. The caller owns nothing afterwards - the engine removes the
// container no matter how the run ends.
type TransientSpec struct {
	Name    string // generated when empty
	Image   string
	Command []string
	Mounts  []Mount
	Timeout time.Duration // 0 means no limit
}

// RunResult is the outcome of a transient container run.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// =============================================================================
// Engine Interface
// =============================================================================

// Engine is the container-engine capability. Components take it explicitly so
// tests can substitute a fake.
type Engine interface {
	// Volume operations
	CreateVolume(name string) error
	RemoveVolume(name string, force bool) error
	VolumeExists(name string) (bool, error)

	// Transient container runs
	RunTransient(spec TransientSpec) (*RunResult, error)

	// Health operations
	Ping() error
	Close() error
}
