package backup

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/dvt/internal/core/bundle"
	"github.com/artpar/dvt/internal/core/compose"
	"github.com/artpar/dvt/internal/shell/archive"
	"github.com/artpar/dvt/internal/shell/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const sharedVolumeSpec = `
services:
  web:
    image: nginx:latest
    volumes:
      - data:/var/www

  worker:
    image: myapp:1.0
    volumes:
      - data:/var/www/shared

volumes:
  data:
`

const threeVolumeSpec = `
services:
  app:
    image: myapp:1.0
    volumes:
      - v1:/a
      - v2:/b
      - v3:/c

volumes:
  v1:
  v2:
  v3:
`

const noVolumeSpec = `
services:
  app:
    image: nginx:latest
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseProject(t *testing.T, yaml, name string) *compose.Project {
	t.Helper()
	project, err := compose.Parse([]byte(yaml), name)
	require.NoError(t, err)
	return project
}

// extractBundle unpacks a bundle and returns its single top-level directory
// and parsed metadata.
func extractBundle(t *testing.T, bundlePath string) (string, *bundle.Metadata) {
	t.Helper()
	dest := t.TempDir()
	require.NoError(t, archive.Extract(bundlePath, dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsDir())

	dir := filepath.Join(dest, entries[0].Name())
	data, err := os.ReadFile(filepath.Join(dir, bundle.MetadataFileName))
	require.NoError(t, err)

	var metadata bundle.Metadata
	require.NoError(t, json.Unmarshal(data, &metadata))
	return dir, &metadata
}

// =============================================================================
// Backup Tests
// =============================================================================

func TestBackup_CreatesBundle(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	require.NoError(t, engine.SeedVolume("myproj_data", map[string]string{
		"a.txt":   "x",
		"b/c.txt": "y",
	}))

	project := parseProject(t, sharedVolumeSpec, "myproj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})
	outputDir := t.TempDir()

	bundlePath, err := writer.Backup(context.Background(), project, Options{
		Compress:  true,
		OutputDir: outputDir,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(bundlePath, ".tar.gz"))
	assert.Contains(t, filepath.Base(bundlePath), "myproj_volumes_")

	// The intermediate working directory is gone; only the bundle remains.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsDir())

	dir, metadata := extractBundle(t, bundlePath)
	require.NoError(t, metadata.Validate())
	assert.Equal(t, "myproj", metadata.Project)
	require.Len(t, metadata.Volumes, 1)
	assert.Equal(t, "myproj_data", metadata.Volumes[0].BackingName)
	require.Len(t, metadata.Volumes[0].Services, 2)

	assert.FileExists(t, filepath.Join(dir, "myproj_data.tar.gz"))
}

func TestBackup_SharedVolumeCapturedOnce(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	require.NoError(t, engine.SeedVolume("myproj_data", map[string]string{"f": "v"}))

	project := parseProject(t, sharedVolumeSpec, "myproj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})

	_, err := writer.Backup(context.Background(), project, Options{
		Compress:  true,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	// Two services mount the volume, one transient container captures it.
	assert.Len(t, engine.Runs, 1)
}

func TestBackup_SourceVolumesMountedReadOnly(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	require.NoError(t, engine.SeedVolume("myproj_data", map[string]string{"f": "v"}))

	project := parseProject(t, sharedVolumeSpec, "myproj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})

	_, err := writer.Backup(context.Background(), project, Options{Compress: true, OutputDir: t.TempDir()})
	require.NoError(t, err)

	require.Len(t, engine.Runs, 1)
	for _, m := range engine.Runs[0].Mounts {
		if !m.Bind {
			assert.True(t, m.ReadOnly)
		}
	}
}

func TestBackup_NoCompress(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	require.NoError(t, engine.SeedVolume("myproj_data", map[string]string{"f": "v"}))

	project := parseProject(t, sharedVolumeSpec, "myproj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})

	bundlePath, err := writer.Backup(context.Background(), project, Options{
		Compress:  false,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(bundlePath, ".tar"))
	assert.False(t, strings.HasSuffix(bundlePath, ".tar.gz"))

	dir, metadata := extractBundle(t, bundlePath)
	assert.Equal(t, "myproj_data.tar", metadata.Volumes[0].Archive)
	assert.FileExists(t, filepath.Join(dir, "myproj_data.tar"))
}

func TestBackup_VolumeFilter(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())

	project := parseProject(t, threeVolumeSpec, "proj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})

	bundlePath, err := writer.Backup(context.Background(), project, Options{
		Volumes:   []string{"v2"},
		Compress:  true,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	_, metadata := extractBundle(t, bundlePath)
	require.Len(t, metadata.Volumes, 1)
	assert.Equal(t, "proj_v2", metadata.Volumes[0].BackingName)
}

func TestBackup_UnknownVolumeFilter(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	project := parseProject(t, threeVolumeSpec, "proj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})
	outputDir := t.TempDir()

	_, err := writer.Backup(context.Background(), project, Options{
		Volumes:   []string{"nope"},
		OutputDir: outputDir,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, compose.ErrUnknownVolume)

	// Nothing touched.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_NoNamedVolumes(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	project := parseProject(t, noVolumeSpec, "proj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})

	_, err := writer.Backup(context.Background(), project, Options{OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoVolumes)
}

func TestBackup_FailureLeavesNothingBehind(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	engine.FailVolumes["proj_v2"] = docker.NewEngineError("RunTransient", "container", "", "volume vanished", docker.ErrContainerFailed)

	project := parseProject(t, threeVolumeSpec, "proj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})
	outputDir := t.TempDir()

	_, err := writer.Backup(context.Background(), project, Options{
		Compress:  true,
		OutputDir: outputDir,
	})
	require.Error(t, err)

	var backupErr *BackupError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, "proj_v2", backupErr.Volume)

	// No bundle and no orphaned member files.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_CancelledContext(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	project := parseProject(t, threeVolumeSpec, "proj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})
	outputDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := writer.Backup(ctx, project, Options{OutputDir: outputDir})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_BoundedWorkers(t *testing.T) {
	engine := docker.NewFakeEngine(t.TempDir())
	for _, v := range []string{"proj_v1", "proj_v2", "proj_v3"} {
		require.NoError(t, engine.SeedVolume(v, map[string]string{"f": v}))
	}

	project := parseProject(t, threeVolumeSpec, "proj")
	writer := NewWriter(engine, testLogger(), WriterConfig{})

	bundlePath, err := writer.Backup(context.Background(), project, Options{
		Compress:  true,
		OutputDir: t.TempDir(),
		Workers:   3,
	})
	require.NoError(t, err)

	dir, metadata := extractBundle(t, bundlePath)
	assert.Len(t, metadata.Volumes, 3)
	for _, v := range metadata.Volumes {
		assert.FileExists(t, filepath.Join(dir, v.Archive))
	}
}
