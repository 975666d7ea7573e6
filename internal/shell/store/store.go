// Package store provides the local backup catalog: a record of every bundle
// this tool has written, so past backups can be listed without scanning the
// filesystem for bundle files.
package store

import (
	"context"
	"time"
)

// =============================================================================
// Catalog Types
// =============================================================================

// BackupRecord is one catalog entry for a written bundle.
type BackupRecord struct {
	ID         string
	Project    string
	BundlePath string
	Compressed bool
	Volumes    []string // backing names captured in the bundle
	CreatedAt  time.Time
}

// ListOptions controls pagination for list operations.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultLimit is applied when ListOptions.Limit is not set.
const DefaultLimit = 50

// Normalize returns options with defaults applied.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// =============================================================================
// Store Interface
// =============================================================================

// Store is the backup catalog interface.
type Store interface {
	SaveBackup(ctx context.Context, record *BackupRecord) error
	GetBackup(ctx context.Context, id string) (*BackupRecord, error)
	ListBackups(ctx context.Context, opts ListOptions) ([]BackupRecord, error)
	ListBackupsByProject(ctx context.Context, project string, opts ListOptions) ([]BackupRecord, error)
	Close() error
}
