package capabilities

import (
	"fmt"

	models "filevault/internal/domain/models/vault"

	"gopkg.in/yaml.v3"
)

// Preset names shipped in config/presets.yaml
const (
	PresetReadOnly = "read_only"
	PresetReviewer = "reviewer"
	PresetEditor   = "editor"
	PresetFull     = "full"
)

// Preset is a named capability bundle
type Preset struct {
	// Name is the map key in YAML (set during unmarshaling)
	Name         string   `yaml:"-" json:"name"`
	DisplayName  string   `yaml:"display_name" json:"display_name"`
	Description  string   `yaml:"description" json:"description"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	// Mask is Capabilities parsed into a bitset
	Mask models.Capability `yaml:"-" json:"mask"`
}

// Level is the access level the bundle resolves to
func (p *Preset) Level() models.Level {
	return models.LevelFor(p.Mask)
}

// PresetFile is the decoded presets document
type PresetFile struct {
	Presets []Preset `yaml:"-" json:"presets"` // Ordered slice, populated by custom unmarshaler
}

// UnmarshalYAML keeps presets in file order and parses their masks
func (f *PresetFile) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Presets map[string]Preset `yaml:"presets"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "presets" {
			continue
		}
		// Content alternates key, value
		entries := node.Content[i+1].Content
		for j := 0; j+1 < len(entries); j += 2 {
			name := entries[j].Value
			preset := raw.Presets[name]
			preset.Name = name

			mask, err := models.ParseCapabilities(preset.Capabilities)
			if err != nil {
				return fmt.Errorf("preset %s: %w", name, err)
			}
			if mask == models.CapNone {
				return fmt.Errorf("preset %s grants nothing", name)
			}
			preset.Mask = mask
			f.Presets = append(f.Presets, preset)
		}
	}
	return nil
}
