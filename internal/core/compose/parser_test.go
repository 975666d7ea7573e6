package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalSpec = `
services:
  app:
    image: nginx:latest
`

const namedVolumeSpec = `
services:
  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

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

const mixedMountSpec = `
services:
  web:
    image: nginx:latest
    volumes:
      - ./html:/usr/share/nginx/html:ro
      - type: bind
        source: /etc/certs
        target: /certs
        read_only: true
      - type: volume
        source: cache
        target: /cache

volumes:
  cache:
`

const externalVolumeSpec = `
services:
  db:
    image: mysql:8
    volumes:
      - dbdata:/var/lib/mysql
      - shared:/shared

volumes:
  dbdata:
    external: true
  shared:
    name: team_shared
`

const undeclaredVolumeSpec = `
services:
  app:
    image: nginx:latest
    volumes:
      - type: volume
        source: mystery
        target: /data
`

const multiVolumeSpec = `
services:
  app:
    image: myapp:1.0
    volumes:
      - first:/a
      - second:/b

volumes:
  first:
  second:
`

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse([]byte(""), "proj")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_WhitespaceOnly(t *testing.T) {
	_, err := Parse([]byte("   \n\t  "), "proj")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("services: [unclosed"), "proj")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NotAMapping(t *testing.T) {
	_, err := Parse([]byte("- just\n- a\n- list\n"), "proj")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NoServicesKey(t *testing.T) {
	project, err := Parse([]byte("name: whatever\n"), "proj")
	require.NoError(t, err)
	assert.Empty(t, project.Services)

	inv, err := project.BuildInventory(nil)
	require.NoError(t, err)
	assert.Empty(t, inv)
}

// =============================================================================
// Mount Classification Tests
// =============================================================================

func TestParse_ServiceWithoutMounts(t *testing.T) {
	project, err := Parse([]byte(minimalSpec), "proj")
	require.NoError(t, err)
	require.Len(t, project.Services, 1)
	assert.Equal(t, "app", project.Services[0].Name)
	assert.Empty(t, project.Services[0].Mounts)
}

func TestParse_NamedVolume(t *testing.T) {
	project, err := Parse([]byte(namedVolumeSpec), "proj")
	require.NoError(t, err)
	require.Len(t, project.Services, 1)
	require.Len(t, project.Services[0].Mounts, 1)

	m := project.Services[0].Mounts[0]
	assert.Equal(t, MountKindVolume, m.Kind)
	assert.Equal(t, "pgdata", m.Volume)
	assert.Equal(t, "/var/lib/postgresql/data", m.Target)
	assert.False(t, m.ReadOnly)

	decl := project.Volumes["pgdata"]
	assert.Equal(t, "proj_pgdata", decl.Backing)
	assert.False(t, decl.External)
}

func TestParse_BindAndVolumeMix(t *testing.T) {
	project, err := Parse([]byte(mixedMountSpec), "proj")
	require.NoError(t, err)
	require.Len(t, project.Services, 1)
	mounts := project.Services[0].Mounts
	require.Len(t, mounts, 3)

	assert.Equal(t, MountKindBind, mounts[0].Kind)
	assert.Equal(t, "./html", mounts[0].HostPath)
	assert.True(t, mounts[0].ReadOnly)

	assert.Equal(t, MountKindBind, mounts[1].Kind)
	assert.Equal(t, "/etc/certs", mounts[1].HostPath)
	assert.Equal(t, "/certs", mounts[1].Target)
	assert.True(t, mounts[1].ReadOnly)

	assert.Equal(t, MountKindVolume, mounts[2].Kind)
	assert.Equal(t, "cache", mounts[2].Volume)
}

func TestParse_ExternalVolumeKeepsName(t *testing.T) {
	project, err := Parse([]byte(externalVolumeSpec), "proj")
	require.NoError(t, err)

	decl := project.Volumes["dbdata"]
	assert.True(t, decl.External)
	// External volumes never get the synthesized project prefix.
	assert.Equal(t, "dbdata", decl.Backing)
}

func TestParse_ExplicitNameOverride(t *testing.T) {
	project, err := Parse([]byte(externalVolumeSpec), "proj")
	require.NoError(t, err)

	decl := project.Volumes["shared"]
	assert.False(t, decl.External)
	assert.Equal(t, "team_shared", decl.Backing)
}

func TestParse_UndeclaredNamedVolume(t *testing.T) {
	_, err := Parse([]byte(undeclaredVolumeSpec), "proj")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSchema)
	assert.Contains(t, err.Error(), "mystery")
}

// =============================================================================
// Inventory Tests
// =============================================================================

func TestBuildInventory_DeduplicatesSharedVolume(t *testing.T) {
	project, err := Parse([]byte(sharedVolumeSpec), "myproj")
	require.NoError(t, err)

	inv, err := project.BuildInventory(nil)
	require.NoError(t, err)
	require.Len(t, inv, 1)

	entry := inv[0]
	assert.Equal(t, "data", entry.Logical)
	assert.Equal(t, "myproj_data", entry.Backing)
	require.Len(t, entry.Refs, 2)
	assert.Equal(t, "web", entry.Refs[0].Service)
	assert.Equal(t, "/var/www", entry.Refs[0].MountPath)
	assert.Equal(t, "worker", entry.Refs[1].Service)
	assert.Equal(t, "/var/www/shared", entry.Refs[1].MountPath)
}

func TestBuildInventory_CountsDistinctBackingNames(t *testing.T) {
	project, err := Parse([]byte(multiVolumeSpec), "proj")
	require.NoError(t, err)

	inv, err := project.BuildInventory(nil)
	require.NoError(t, err)
	assert.Len(t, inv, 2)
	assert.Equal(t, "proj_first", inv[0].Backing)
	assert.Equal(t, "proj_second", inv[1].Backing)
}

func TestBuildInventory_ExcludesBindMounts(t *testing.T) {
	project, err := Parse([]byte(mixedMountSpec), "proj")
	require.NoError(t, err)

	inv, err := project.BuildInventory(nil)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, "proj_cache", inv[0].Backing)
}

func TestBuildInventory_FilterByLogicalName(t *testing.T) {
	project, err := Parse([]byte(multiVolumeSpec), "proj")
	require.NoError(t, err)

	inv, err := project.BuildInventory([]string{"second"})
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, "proj_second", inv[0].Backing)
}

func TestBuildInventory_FilterByBackingName(t *testing.T) {
	project, err := Parse([]byte(multiVolumeSpec), "proj")
	require.NoError(t, err)

	inv, err := project.BuildInventory([]string{"proj_first"})
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, "first", inv[0].Logical)
}

func TestBuildInventory_UnknownFilterName(t *testing.T) {
	project, err := Parse([]byte(multiVolumeSpec), "proj")
	require.NoError(t, err)

	_, err = project.BuildInventory([]string{"nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVolume)
	assert.Contains(t, err.Error(), "nope")
}

// =============================================================================
// List Tests
// =============================================================================

func TestListRows_StableDocumentOrder(t *testing.T) {
	project, err := Parse([]byte(sharedVolumeSpec), "myproj")
	require.NoError(t, err)

	rows := project.ListRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "web", rows[0].Service)
	assert.Equal(t, "worker", rows[1].Service)

	// Restartable: a second call yields the same rows.
	again := project.ListRows()
	assert.Equal(t, rows, again)
}

func TestListRows_IncludesBindMounts(t *testing.T) {
	project, err := Parse([]byte(mixedMountSpec), "proj")
	require.NoError(t, err)

	rows := project.ListRows()
	require.Len(t, rows, 3)
	assert.Equal(t, MountKindBind, rows[0].Kind)
	assert.Equal(t, "./html", rows[0].Source)
	assert.Equal(t, MountKindVolume, rows[2].Kind)
	assert.Equal(t, "cache", rows[2].Source)
}

func TestListRows_MarksExternal(t *testing.T) {
	project, err := Parse([]byte(externalVolumeSpec), "proj")
	require.NoError(t, err)

	rows := project.ListRows()
	require.Len(t, rows, 2)
	assert.True(t, rows[0].External)
	assert.False(t, rows[1].External)
}
