// Package bundle defines the self-describing backup bundle format: the
// metadata document carried inside every bundle and the naming rules for the
// bundle and its member archives.
package bundle

import (
	"errors"
	"fmt"
	"time"

	"github.com/artpar/dvt/internal/core/compose"
)

// MetadataFileName is the name of the metadata document inside a bundle.
const MetadataFileName = "metadata.json"

// timestampLayout is the format used in bundle directory and file names.
const timestampLayout = "20060102_150405"

// ErrInvalidMetadata is the base error for metadata schema violations.
var ErrInvalidMetadata = errors.New("invalid bundle metadata")

// =============================================================================
// Metadata Types
// =============================================================================

// ServiceRef names one service mount referencing a backed-up volume.
type ServiceRef struct {
	Name      string `json:"name"`
	MountPath string `json:"mount_path"`
	ReadOnly  bool   `json:"read_only"`
}

// VolumeMeta describes one member archive of a bundle.
type VolumeMeta struct {
	LogicalName string       `json:"logical_name"`
	BackingName string       `json:"backing_name"`
	External    bool         `json:"external"`
	Archive     string       `json:"archive"`
	Services    []ServiceRef `json:"services"`
}

// Metadata is the document written next to the member archives. A bundle is
// immutable once written; restore only ever reads this.
type Metadata struct {
	CreatedAt time.Time    `json:"created_at"`
	Project   string       `json:"project"`
	Volumes   []VolumeMeta `json:"volumes"`
}

// =============================================================================
// Construction
// =============================================================================

// New builds the metadata document for an inventory about to be archived.
func New(project string, createdAt time.Time, inventory compose.Inventory, compress bool) *Metadata {
	m := &Metadata{
		CreatedAt: createdAt,
		Project:   project,
		Volumes:   make([]VolumeMeta, 0, len(inventory)),
	}
	for _, entry := range inventory {
		vm := VolumeMeta{
			LogicalName: entry.Logical,
			BackingName: entry.Backing,
			External:    entry.External,
			Archive:     MemberName(entry.Backing, compress),
			Services:    make([]ServiceRef, 0, len(entry.Refs)),
		}
		for _, ref := range entry.Refs {
			vm.Services = append(vm.Services, ServiceRef{
				Name:      ref.Service,
				MountPath: ref.MountPath,
				ReadOnly:  ref.ReadOnly,
			})
		}
		m.Volumes = append(m.Volumes, vm)
	}
	return m
}

// =============================================================================
// Naming
// =============================================================================

// BaseName returns the working directory name for a backup taken at t,
// e.g. "myproj_volumes_20240112_123456".
func BaseName(project string, t time.Time) string {
	return fmt.Sprintf("%s_volumes_%s", project, t.Format(timestampLayout))
}

// MemberName returns the member archive file name for a backing volume name.
func MemberName(backing string, compress bool) string {
	if compress {
		return backing + ".tar.gz"
	}
	return backing + ".tar"
}

// ArchiveName returns the outer bundle file name for a base name.
func ArchiveName(base string, compress bool) string {
	if compress {
		return base + ".tar.gz"
	}
	return base + ".tar"
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the metadata schema. Every field the restore path depends
// on must be present; a missing field makes the whole bundle unusable.
func (m *Metadata) Validate() error {
	if m.Project == "" {
		return fmt.Errorf("%w: missing project", ErrInvalidMetadata)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidMetadata)
	}
	if len(m.Volumes) == 0 {
		return fmt.Errorf("%w: no volumes listed", ErrInvalidMetadata)
	}
	for i, v := range m.Volumes {
		if v.LogicalName == "" {
			return fmt.Errorf("%w: volumes[%d] missing logical_name", ErrInvalidMetadata, i)
		}
		if v.BackingName == "" {
			return fmt.Errorf("%w: volumes[%d] missing backing_name", ErrInvalidMetadata, i)
		}
		if v.Archive == "" {
			return fmt.Errorf("%w: volumes[%d] missing archive", ErrInvalidMetadata, i)
		}
		for j, s := range v.Services {
			if s.Name == "" {
				return fmt.Errorf("%w: volumes[%d].services[%d] missing name", ErrInvalidMetadata, i, j)
			}
			if s.MountPath == "" {
				return fmt.Errorf("%w: volumes[%d].services[%d] missing mount_path", ErrInvalidMetadata, i, j)
			}
		}
	}
	return nil
}

// Lookup finds a volume by logical or backing name.
func (m *Metadata) Lookup(name string) (VolumeMeta, bool) {
	for _, v := range m.Volumes {
		if v.LogicalName == name || v.BackingName == name {
			return v, true
		}
	}
	return VolumeMeta{}, false
}
