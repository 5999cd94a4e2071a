package capabilities

import (
	"embed"
	"fmt"
	"sync"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

const presetsFile = "config/presets.yaml"

// Registry holds the permission preset bundles
type Registry struct {
	presets []Preset
	byName  map[string]int
	mu      sync.RWMutex
}

// NewRegistry creates a registry from the embedded presets file
func NewRegistry() (*Registry, error) {
	data, err := configFiles.ReadFile(presetsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", presetsFile, err)
	}
	return NewRegistryFromYAML(data)
}

// NewRegistryFromYAML creates a registry from a presets document
func NewRegistryFromYAML(data []byte) (*Registry, error) {
	r := &Registry{}
	if err := r.Load(data); err != nil {
		return nil, err
	}
	return r, nil
}

// Load replaces the registry contents
func (r *Registry) Load(data []byte) error {
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal presets: %w", err)
	}

	byName := make(map[string]int, len(file.Presets))
	for i, p := range file.Presets {
		byName[p.Name] = i
	}

	r.mu.Lock()
	r.presets = file.Presets
	r.byName = byName
	r.mu.Unlock()
	return nil
}

// Get returns a preset by name
func (r *Registry) Get(name string) (*Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byName[name]
	if !ok {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown permission preset %q", name)}
	}
	p := r.presets[i]
	return &p, nil
}

// Mask returns the capability bitset of a preset
func (r *Registry) Mask(name string) (models.Capability, error) {
	p, err := r.Get(name)
	if err != nil {
		return models.CapNone, err
	}
	return p.Mask, nil
}

// List returns all presets in file order
func (r *Registry) List() []Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Preset, len(r.presets))
	copy(out, r.presets)
	return out
}
