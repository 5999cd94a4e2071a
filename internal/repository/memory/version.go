package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"
)

type versionRepository struct {
	store *Store
}

// NewVersionRepository creates a version ledger backed by the store
func NewVersionRepository(store *Store) vaultRepo.VersionRepository {
	return &versionRepository{store: store}
}

func (r *versionRepository) Create(ctx context.Context, version *models.FileVersion) error {
	return r.store.write(ctx, func() error {
		if _, exists := r.store.versions[version.ID]; exists {
			return fmt.Errorf("version %s: %w", version.ID, domain.ErrConflict)
		}
		for _, v := range r.store.versions {
			if v.FileID != version.FileID {
				continue
			}
			if v.VersionNumber == version.VersionNumber {
				return fmt.Errorf("version %d of file %s: %w", version.VersionNumber, version.FileID, domain.ErrConflict)
			}
			if version.IsCurrent && v.IsCurrent {
				return fmt.Errorf("file %s already has a current version: %w", version.FileID, domain.ErrConflict)
			}
		}
		r.store.versions[version.ID] = version.Clone()
		return nil
	})
}

func (r *versionRepository) GetByID(ctx context.Context, id string) (*models.FileVersion, error) {
	var (
		out models.FileVersion
		ok  bool
	)
	r.store.read(ctx, func() {
		var stored models.FileVersion
		if stored, ok = r.store.versions[id]; ok {
			out = stored.Clone()
		}
	})
	if !ok {
		return nil, notFound("version", id)
	}
	return &out, nil
}

func (r *versionRepository) GetCurrent(ctx context.Context, fileID string) (*models.FileVersion, error) {
	var (
		out   models.FileVersion
		found bool
	)
	r.store.read(ctx, func() {
		for _, v := range r.store.versions {
			if v.FileID == fileID && v.IsCurrent {
				out, found = v.Clone(), true
				return
			}
		}
	})
	if !found {
		return nil, nil
	}
	return &out, nil
}

func (r *versionRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	var out []models.FileVersion
	r.store.read(ctx, func() {
		for _, v := range r.store.versions {
			if v.FileID == fileID {
				out = append(out, v.Clone())
			}
		}
	})
	slices.SortFunc(out, func(a, b models.FileVersion) int {
		return b.VersionNumber - a.VersionNumber
	})
	return out, nil
}

func (r *versionRepository) ClearCurrent(ctx context.Context, fileID, actor string, at time.Time) error {
	return r.store.write(ctx, func() error {
		for id, v := range r.store.versions {
			if v.FileID == fileID && v.IsCurrent {
				v.IsCurrent = false
				v.Touch(actor, at)
				v.Version++
				r.store.versions[id] = v
			}
		}
		return nil
	})
}

func (r *versionRepository) NextVersionNumber(ctx context.Context, fileID string) (int, error) {
	highest := 0
	r.store.read(ctx, func() {
		for _, v := range r.store.versions {
			if v.FileID == fileID && v.VersionNumber > highest {
				highest = v.VersionNumber
			}
		}
	})
	return highest + 1, nil
}
