package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses Docker Compose YAML into a Project.
// This is a pure function - no I/O, no side effects.
// projectName is used to synthesize backing names for non-external volumes.
func Parse(yamlContent []byte, projectName string) (*Project, error) {
	if strings.TrimSpace(string(yamlContent)) == "" {
		return nil, ErrEmptyInput
	}

	// Parse YAML once into a node tree. The node tree keeps document order,
	// which compose-go's map-based model throws away.
	var root yaml.Node
	if err := yaml.Unmarshal(yamlContent, &root); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	var dict map[string]interface{}
	if err := root.Decode(&dict); err != nil {
		return nil, NewParseError("", "compose file must be a mapping", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, ErrEmptyInput
	}

	// A compose file without services is valid but contributes no volumes.
	if _, ok := dict["services"]; !ok {
		return &Project{Name: projectName, Volumes: map[string]VolumeDecl{}}, nil
	}

	project, err := loadComposeProject(yamlContent, dict, projectName)
	if err != nil {
		return nil, err
	}

	result := &Project{
		Name:     projectName,
		Services: make([]Service, 0, len(project.Services)),
		Volumes:  resolveVolumeDecls(project, projectName),
	}

	for _, name := range mappingKeys(&root, "services") {
		svc, ok := project.Services[name]
		if !ok {
			continue
		}
		converted, err := convertService(name, svc, result.Volumes)
		if err != nil {
			return nil, err
		}
		result.Services = append(result.Services, converted)
	}

	return result, nil
}

// loadComposeProject loads a compose project from in-memory content.
func loadComposeProject(yamlContent []byte, dict map[string]interface{}, projectName string) (*types.Project, error) {
	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: yamlContent,
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(projectName, false)
		// Services without image/build are fine here - they just contribute
		// no volumes. Leave the strictness to the mount conversion below.
		opts.SkipValidation = true
		opts.SkipInterpolation = false
		// Don't resolve paths or synthesize volume names; backing names are
		// resolved explicitly in resolveVolumeDecls.
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidSchema)
	}
	return project, nil
}

// resolveVolumeDecls resolves the backing name of every top-level volume.
// External volumes keep their declared name; a "name:" override wins; anything
// else gets the "{project}_{logical}" prefix docker compose would use.
func resolveVolumeDecls(project *types.Project, projectName string) map[string]VolumeDecl {
	decls := make(map[string]VolumeDecl, len(project.Volumes))
	for logical, vol := range project.Volumes {
		backing := vol.Name
		if backing == "" {
			if bool(vol.External) {
				backing = logical
			} else {
				backing = fmt.Sprintf("%s_%s", projectName, logical)
			}
		}
		decls[logical] = VolumeDecl{
			Logical:  logical,
			Backing:  backing,
			External: bool(vol.External),
		}
	}
	return decls
}

// convertService converts a compose-go service into a Service, classifying
// each mount as a named volume or a bind mount.
func convertService(name string, svc types.ServiceConfig, decls map[string]VolumeDecl) (Service, error) {
	service := Service{Name: name}

	for i, v := range svc.Volumes {
		// Anonymous volumes ("- /data") have no source to back up.
		if v.Source == "" {
			continue
		}

		_, declared := decls[v.Source]
		switch {
		case v.Type == "bind" || (v.Type != "volume" && isPathSource(v.Source)):
			service.Mounts = append(service.Mounts, MountSpec{
				Kind:     MountKindBind,
				HostPath: v.Source,
				Target:   v.Target,
				ReadOnly: v.ReadOnly,
			})
		case declared:
			service.Mounts = append(service.Mounts, MountSpec{
				Kind:     MountKindVolume,
				Volume:   v.Source,
				Target:   v.Target,
				ReadOnly: v.ReadOnly,
			})
		case v.Type == "" || v.Type == "volume":
			if isPathSource(v.Source) {
				service.Mounts = append(service.Mounts, MountSpec{
					Kind:     MountKindBind,
					HostPath: v.Source,
					Target:   v.Target,
					ReadOnly: v.ReadOnly,
				})
				continue
			}
			return Service{}, NewParseError(
				fmt.Sprintf("services.%s.volumes[%d]", name, i),
				fmt.Sprintf("named volume %q is not declared in the top-level volumes section", v.Source),
				ErrInvalidSchema,
			)
		default:
			// tmpfs and friends are out of backup scope.
		}
	}

	return service, nil
}

// isPathSource reports whether a mount source is a filesystem path.
func isPathSource(source string) bool {
	return strings.HasPrefix(source, "/") ||
		strings.HasPrefix(source, "./") ||
		strings.HasPrefix(source, "../") ||
		strings.HasPrefix(source, "~")
}

// mappingKeys returns the keys of a top-level mapping in document order.
func mappingKeys(root *yaml.Node, section string) []string {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != section {
			continue
		}
		mapping := doc.Content[i+1]
		if mapping.Kind != yaml.MappingNode {
			return nil
		}
		keys := make([]string, 0, len(mapping.Content)/2)
		for j := 0; j+1 < len(mapping.Content); j += 2 {
			keys = append(keys, mapping.Content[j].Value)
		}
		return keys
	}
	return nil
}

// =============================================================================
// Inventory
// =============================================================================

// BuildInventory derives the deduplicated volume inventory from the project.
// Two mounts collapse into one entry exactly when their resolved backing
// names are equal; the entry accumulates every referencing (service, path)
// pair. filter optionally restricts the inventory to the named volumes
// (matched by logical or backing name); an unknown filter name is an error.
func (p *Project) BuildInventory(filter []string) (Inventory, error) {
	inventory := make(Inventory, 0, len(p.Volumes))
	index := make(map[string]int, len(p.Volumes))

	for _, svc := range p.Services {
		for _, m := range svc.Mounts {
			if m.Kind != MountKindVolume {
				continue
			}
			decl := p.Volumes[m.Volume]
			ref := MountRef{Service: svc.Name, MountPath: m.Target, ReadOnly: m.ReadOnly}

			if i, ok := index[decl.Backing]; ok {
				inventory[i].Refs = append(inventory[i].Refs, ref)
				continue
			}
			index[decl.Backing] = len(inventory)
			inventory = append(inventory, InventoryEntry{
				Logical:  decl.Logical,
				Backing:  decl.Backing,
				External: decl.External,
				Refs:     []MountRef{ref},
			})
		}
	}

	if len(filter) == 0 {
		return inventory, nil
	}

	selected := make(map[string]bool, len(filter))
	for _, name := range filter {
		entry, ok := inventory.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownVolume)
		}
		selected[entry.Backing] = true
	}

	filtered := make(Inventory, 0, len(selected))
	for _, e := range inventory {
		if selected[e.Backing] {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// =============================================================================
// List Rows
// =============================================================================

// ListRows produces one row per mount occurrence, services in document order,
// mounts within a service in document order. It never deduplicates - that is
// the inventory's job.
func (p *Project) ListRows() []ListRow {
	var rows []ListRow
	for _, svc := range p.Services {
		for _, m := range svc.Mounts {
			row := ListRow{
				Service:  svc.Name,
				Source:   m.Source(),
				Kind:     m.Kind,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			}
			if m.Kind == MountKindVolume {
				row.External = p.Volumes[m.Volume].External
			}
			rows = append(rows, row)
		}
	}
	return rows
}
