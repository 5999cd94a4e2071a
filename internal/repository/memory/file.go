package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"
)

type fileRepository struct {
	store *Store
}

// NewFileRepository creates a file repository backed by the store
func NewFileRepository(store *Store) vaultRepo.FileRepository {
	return &fileRepository{store: store}
}

func (r *fileRepository) Create(ctx context.Context, file *models.File) error {
	return r.store.write(ctx, func() error {
		if _, exists := r.store.files[file.ID]; exists {
			return fmt.Errorf("file %s: %w", file.ID, domain.ErrConflict)
		}
		if err := r.checkName(file); err != nil {
			return err
		}
		r.store.files[file.ID] = file.Clone()
		return nil
	})
}

func (r *fileRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	var (
		out models.File
		ok  bool
	)
	r.store.read(ctx, func() {
		var stored models.File
		if stored, ok = r.store.files[id]; ok {
			out = stored.Clone()
		}
	})
	if !ok {
		return nil, notFound("file", id)
	}
	return &out, nil
}

func (r *fileRepository) Update(ctx context.Context, file *models.File) error {
	return r.store.write(ctx, func() error {
		stored, ok := r.store.files[file.ID]
		if !ok {
			return notFound("file", file.ID)
		}
		if stored.Version != file.Version {
			return staleVersion("file", file.ID, file.Version)
		}
		if err := r.checkName(file); err != nil {
			return err
		}

		next := file.Clone()
		// Lock state and counters have their own atomic primitives
		next.CheckedOutBy = stored.CheckedOutBy
		next.CheckedOutAt = stored.CheckedOutAt
		next.ExpectedCheckinAt = stored.ExpectedCheckinAt
		next.DownloadCount = stored.DownloadCount
		next.ViewCount = stored.ViewCount
		next.ShareCount = stored.ShareCount
		next.LastAccessedAt = stored.LastAccessedAt
		next.LastAccessedBy = stored.LastAccessedBy
		next.Version++

		file.Version = next.Version
		r.store.files[file.ID] = next
		return nil
	})
}

func (r *fileRepository) ListByFolder(ctx context.Context, folderID string) ([]models.File, error) {
	return r.list(ctx, func(f *models.File) bool { return f.FolderID == folderID }), nil
}

func (r *fileRepository) ListByProject(ctx context.Context, projectID string) ([]models.File, error) {
	return r.list(ctx, func(f *models.File) bool { return f.ProjectID == projectID }), nil
}

func (r *fileRepository) FindByName(ctx context.Context, folderID, name string) (*models.File, error) {
	matches := r.list(ctx, func(f *models.File) bool {
		return f.FolderID == folderID && f.IsVisible() && sameName(f.Name, name)
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (r *fileRepository) IncrementCounters(ctx context.Context, id string, delta models.CounterDelta, at time.Time) error {
	return r.store.write(ctx, func() error {
		stored, ok := r.store.files[id]
		if !ok {
			return notFound("file", id)
		}
		stored.DownloadCount += delta.Downloads
		stored.ViewCount += delta.Views
		stored.ShareCount += delta.Shares
		if delta.AccessedBy != nil {
			by := *delta.AccessedBy
			stored.LastAccessedAt = &at
			stored.LastAccessedBy = &by
		}
		stored.Version++
		r.store.files[id] = stored
		return nil
	})
}

func (r *fileRepository) AcquireCheckout(ctx context.Context, id, userID string, at, expectedCheckin time.Time) (bool, error) {
	acquired := false
	err := r.store.write(ctx, func() error {
		stored, ok := r.store.files[id]
		if !ok {
			return notFound("file", id)
		}
		if stored.CheckedOutBy != nil {
			return nil
		}
		holder := userID
		stored.CheckedOutBy = &holder
		stored.CheckedOutAt = &at
		stored.ExpectedCheckinAt = &expectedCheckin
		stored.Touch(userID, at)
		stored.Version++
		r.store.files[id] = stored
		acquired = true
		return nil
	})
	return acquired, err
}

func (r *fileRepository) ReleaseCheckout(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	released := false
	err := r.store.write(ctx, func() error {
		stored, ok := r.store.files[id]
		if !ok {
			return notFound("file", id)
		}
		if stored.CheckedOutBy == nil || *stored.CheckedOutBy != userID {
			return nil
		}
		r.store.files[id] = clearCheckout(stored, userID, at)
		released = true
		return nil
	})
	return released, err
}

func (r *fileRepository) ForceReleaseCheckout(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	released := false
	err := r.store.write(ctx, func() error {
		stored, ok := r.store.files[id]
		if !ok {
			return notFound("file", id)
		}
		if stored.CheckedOutBy == nil {
			return nil
		}
		r.store.files[id] = clearCheckout(stored, actor, at)
		released = true
		return nil
	})
	return released, err
}

func (r *fileRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.File, error) {
	return r.list(ctx, func(f *models.File) bool {
		return f.IsVisible() && f.IsOverdue(now)
	}), nil
}

func (r *fileRepository) list(ctx context.Context, keep func(*models.File) bool) []models.File {
	var out []models.File
	r.store.read(ctx, func() {
		for _, f := range r.store.files {
			if keep(&f) {
				out = append(out, f.Clone())
			}
		}
	})
	slices.SortFunc(out, func(a, b models.File) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// checkName mirrors the unique index on visible file names per folder
func (r *fileRepository) checkName(file *models.File) error {
	if !file.IsVisible() {
		return nil
	}
	for _, f := range r.store.files {
		if f.ID != file.ID && f.FolderID == file.FolderID && f.IsVisible() && sameName(f.Name, file.Name) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("a file named %q already exists in this folder", file.Name),
				Reason:       domain.ConflictDuplicateName,
				ResourceType: "file",
				ResourceID:   f.ID,
			}
		}
	}
	return nil
}

func clearCheckout(f models.File, actor string, at time.Time) models.File {
	f.CheckedOutBy = nil
	f.CheckedOutAt = nil
	f.ExpectedCheckinAt = nil
	f.Touch(actor, at)
	f.Version++
	return f
}
