package compose

// =============================================================================
// Project - Main Output Type
// =============================================================================

// Project represents a parsed Docker Compose project, reduced to the parts
// that matter for volume backup: services, their mounts, and the top-level
// volume declarations. It is built once per invocation and read-only after.
type Project struct {
	Name     string                `json:"name"`
	Services []Service             `json:"services"`
	Volumes  map[string]VolumeDecl `json:"volumes,omitempty"`
}

// Service represents a single service and its mounts in document order.
type Service struct {
	Name   string      `json:"name"`
	Mounts []MountSpec `json:"mounts,omitempty"`
}

// =============================================================================
// Mount Types
// =============================================================================

// MountKind discriminates the mount variants we care about.
type MountKind string

const (
	MountKindVolume MountKind = "volume"
	MountKindBind   MountKind = "bind"
)

// MountSpec is a tagged variant over named-volume and bind mounts.
// For MountKindVolume, Volume holds the logical volume name (a key into
// Project.Volumes). For MountKindBind, HostPath holds the host source path.
type MountSpec struct {
	Kind     MountKind `json:"kind"`
	Volume   string    `json:"volume,omitempty"`
	HostPath string    `json:"host_path,omitempty"`
	Target   string    `json:"target"`
	ReadOnly bool      `json:"readonly"`
}

// Source returns the volume name or host path, whichever the variant carries.
func (m MountSpec) Source() string {
	if m.Kind == MountKindVolume {
		return m.Volume
	}
	return m.HostPath
}

// VolumeDecl is a top-level volume declaration with its resolved backing name.
// Backing defaults to "{project}_{logical}" unless the volume is external or
// carries an explicit name override.
type VolumeDecl struct {
	Logical  string `json:"logical"`
	Backing  string `json:"backing"`
	External bool   `json:"external"`
}

// =============================================================================
// Inventory Types
// =============================================================================

// MountRef records one (service, mount path) pair referencing a volume.
type MountRef struct {
	Service   string `json:"service"`
	MountPath string `json:"mount_path"`
	ReadOnly  bool   `json:"read_only"`
}

// InventoryEntry is one backed-up volume with every reference to it.
type InventoryEntry struct {
	Logical  string     `json:"logical_name"`
	Backing  string     `json:"backing_name"`
	External bool       `json:"external"`
	Refs     []MountRef `json:"services"`
}

// Inventory is the deduplicated set of named volumes a project uses, in order
// of first reference. Invariant: one entry per distinct backing name, no
// matter how many services mount it.
type Inventory []InventoryEntry

// Lookup finds an entry by logical or backing name.
func (inv Inventory) Lookup(name string) (InventoryEntry, bool) {
	for _, e := range inv {
		if e.Logical == name || e.Backing == name {
			return e, true
		}
	}
	return InventoryEntry{}, false
}

// =============================================================================
// List Rows
// =============================================================================

// ListRow is one line of the "list" output: a single mount occurrence.
type ListRow struct {
	Service  string    `json:"service"`
	Source   string    `json:"volume_or_path"`
	Kind     MountKind `json:"kind"`
	Target   string    `json:"mount_path"`
	ReadOnly bool      `json:"read_only"`
	External bool      `json:"external"`
}
