package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"
)

type permissionRepository struct {
	store *Store
}

// NewPermissionRepository creates a permission repository backed by the store
func NewPermissionRepository(store *Store) vaultRepo.PermissionRepository {
	return &permissionRepository{store: store}
}

func (r *permissionRepository) Create(ctx context.Context, perm *models.FilePermission) error {
	return r.store.write(ctx, func() error {
		if _, exists := r.store.permissions[perm.ID]; exists {
			return fmt.Errorf("permission %s: %w", perm.ID, domain.ErrConflict)
		}
		if err := r.checkSingleActive(perm); err != nil {
			return err
		}
		r.store.permissions[perm.ID] = perm.Clone()
		return nil
	})
}

func (r *permissionRepository) GetByID(ctx context.Context, id string) (*models.FilePermission, error) {
	var (
		out models.FilePermission
		ok  bool
	)
	r.store.read(ctx, func() {
		var stored models.FilePermission
		if stored, ok = r.store.permissions[id]; ok {
			out = stored.Clone()
		}
	})
	if !ok {
		return nil, notFound("permission", id)
	}
	return &out, nil
}

func (r *permissionRepository) Update(ctx context.Context, perm *models.FilePermission) error {
	return r.store.write(ctx, func() error {
		stored, ok := r.store.permissions[perm.ID]
		if !ok {
			return notFound("permission", perm.ID)
		}
		if stored.Version != perm.Version {
			return staleVersion("permission", perm.ID, perm.Version)
		}
		if err := r.checkSingleActive(perm); err != nil {
			return err
		}
		perm.Version++
		r.store.permissions[perm.ID] = perm.Clone()
		return nil
	})
}

func (r *permissionRepository) ListBySubject(ctx context.Context, fileID string, subject models.Subject) ([]models.FilePermission, error) {
	key := subject.Key()
	return r.list(ctx, func(p *models.FilePermission) bool {
		return p.FileID == fileID && p.Subject.Key() == key
	}), nil
}

func (r *permissionRepository) ListByFile(ctx context.Context, fileID string) ([]models.FilePermission, error) {
	return r.list(ctx, func(p *models.FilePermission) bool { return p.FileID == fileID }), nil
}

func (r *permissionRepository) list(ctx context.Context, keep func(*models.FilePermission) bool) []models.FilePermission {
	var out []models.FilePermission
	r.store.read(ctx, func() {
		for _, p := range r.store.permissions {
			if keep(&p) {
				out = append(out, p.Clone())
			}
		}
	})
	slices.SortFunc(out, func(a, b models.FilePermission) int {
		if c := a.GrantedAt.Compare(b.GrantedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// checkSingleActive mirrors the partial unique index on active rows
func (r *permissionRepository) checkSingleActive(perm *models.FilePermission) error {
	if !perm.Active || perm.Deleted {
		return nil
	}
	key := perm.Subject.Key()
	for _, p := range r.store.permissions {
		if p.ID != perm.ID && p.FileID == perm.FileID && p.Subject.Key() == key && p.Active && !p.Deleted {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("%s already has an active grant on file %s", key, perm.FileID),
				Reason:       domain.ConflictAlreadyGranted,
				ResourceType: "permission",
				ResourceID:   p.ID,
			}
		}
	}
	return nil
}
