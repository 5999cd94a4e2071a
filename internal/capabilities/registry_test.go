package capabilities

import (
	"testing"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPresets(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	names := make([]string, 0)
	for _, p := range r.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{PresetReadOnly, PresetReviewer, PresetEditor, PresetFull}, names, "file order is preserved")

	tests := []struct {
		preset string
		want   models.Level
	}{
		{PresetReadOnly, models.LevelReader},
		{PresetReviewer, models.LevelReviewer},
		{PresetEditor, models.LevelEditor},
		{PresetFull, models.LevelOwner},
	}
	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			p, err := r.Get(tt.preset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Level())
			assert.NotEmpty(t, p.DisplayName)
		})
	}

	full, err := r.Mask(PresetFull)
	require.NoError(t, err)
	assert.Equal(t, models.CapAll, full)

	_, err = r.Get("superuser")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistryFromYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "custom preset",
			yaml: "presets:\n  auditor:\n    display_name: Auditor\n    capabilities: [read, print]\n",
		},
		{
			name:    "unknown capability",
			yaml:    "presets:\n  broken:\n    capabilities: [read, fly]\n",
			wantErr: true,
		},
		{
			name:    "empty bundle",
			yaml:    "presets:\n  empty:\n    capabilities: []\n",
			wantErr: true,
		},
		{
			name:    "malformed",
			yaml:    "presets: [",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistryFromYAML([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			mask, err := r.Mask("auditor")
			require.NoError(t, err)
			assert.Equal(t, models.CapRead|models.CapPrint, mask)
		})
	}
}

func TestRegistryReload(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.NoError(t, r.Load([]byte("presets:\n  only:\n    capabilities: [read]\n")))
	assert.Len(t, r.List(), 1)
	_, err = r.Get(PresetFull)
	assert.Error(t, err)
}
