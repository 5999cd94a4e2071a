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

type folderRepository struct {
	store *Store
}

// NewFolderRepository creates a folder repository backed by the store
func NewFolderRepository(store *Store) vaultRepo.FolderRepository {
	return &folderRepository{store: store}
}

func (r *folderRepository) Create(ctx context.Context, folder *models.Folder) error {
	return r.store.write(ctx, func() error {
		if _, exists := r.store.folders[folder.ID]; exists {
			return fmt.Errorf("folder %s: %w", folder.ID, domain.ErrConflict)
		}
		if err := r.checkSiblingName(folder); err != nil {
			return err
		}
		r.store.folders[folder.ID] = folder.Clone()
		return nil
	})
}

func (r *folderRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	var (
		out models.Folder
		ok  bool
	)
	r.store.read(ctx, func() {
		var stored models.Folder
		if stored, ok = r.store.folders[id]; ok {
			out = stored.Clone()
		}
	})
	if !ok {
		return nil, notFound("folder", id)
	}
	return &out, nil
}

func (r *folderRepository) Update(ctx context.Context, folder *models.Folder) error {
	return r.store.write(ctx, func() error {
		stored, ok := r.store.folders[folder.ID]
		if !ok {
			return notFound("folder", folder.ID)
		}
		if stored.Version != folder.Version {
			return staleVersion("folder", folder.ID, folder.Version)
		}
		if err := r.checkSiblingName(folder); err != nil {
			return err
		}
		folder.Version++
		r.store.folders[folder.ID] = folder.Clone()
		return nil
	})
}

func (r *folderRepository) UpdatePlacement(ctx context.Context, folder *models.Folder, actor string, at time.Time) error {
	return r.store.write(ctx, func() error {
		stored, ok := r.store.folders[folder.ID]
		if !ok {
			return notFound("folder", folder.ID)
		}
		if stored.Version != folder.Version {
			return staleVersion("folder", folder.ID, folder.Version)
		}
		stored.Path = folder.Path
		stored.Depth = folder.Depth
		stored.Touch(actor, at)
		stored.Version++
		r.store.folders[folder.ID] = stored

		folder.Touch(actor, at)
		folder.Version = stored.Version
		return nil
	})
}

// LockProject is a no-op: a memory transaction already holds the store's
// write lock for its whole duration
func (r *folderRepository) LockProject(ctx context.Context, projectID string) error {
	return nil
}

func (r *folderRepository) ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Folder, error) {
	var out []models.Folder
	r.store.read(ctx, func() {
		for _, f := range r.store.folders {
			if f.ProjectID == projectID && sameParent(f.ParentID, parentID) {
				out = append(out, f.Clone())
			}
		}
	})
	sortSiblings(out)
	return out, nil
}

func (r *folderRepository) ListSubtree(ctx context.Context, id string) ([]models.Folder, error) {
	var (
		out   []models.Folder
		found bool
	)
	r.store.read(ctx, func() {
		if _, found = r.store.folders[id]; !found {
			return
		}

		children := make(map[string][]models.Folder)
		for _, f := range r.store.folders {
			if f.ParentID != nil {
				children[*f.ParentID] = append(children[*f.ParentID], f)
			}
		}

		// Breadth-first keeps parents ahead of their children
		queue := []string{id}
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			kids := children[next]
			sortSiblings(kids)
			for _, k := range kids {
				out = append(out, k.Clone())
				queue = append(queue, k.ID)
			}
		}
	})
	if !found {
		return nil, notFound("folder", id)
	}
	return out, nil
}

func (r *folderRepository) ListByProject(ctx context.Context, projectID string) ([]models.Folder, error) {
	var out []models.Folder
	r.store.read(ctx, func() {
		for _, f := range r.store.folders {
			if f.ProjectID == projectID {
				out = append(out, f.Clone())
			}
		}
	})
	slices.SortFunc(out, func(a, b models.Folder) int {
		if a.Depth != b.Depth {
			return a.Depth - b.Depth
		}
		return compareSiblings(a, b)
	})
	return out, nil
}

func (r *folderRepository) FindSibling(ctx context.Context, projectID string, parentID *string, name string) (*models.Folder, error) {
	var (
		out   models.Folder
		found bool
	)
	r.store.read(ctx, func() {
		for _, f := range r.store.folders {
			if f.ProjectID == projectID && sameParent(f.ParentID, parentID) && f.IsVisible() && sameName(f.Name, name) {
				out, found = f.Clone(), true
				return
			}
		}
	})
	if !found {
		return nil, nil
	}
	return &out, nil
}

// checkSiblingName mirrors the unique index on visible sibling names
func (r *folderRepository) checkSiblingName(folder *models.Folder) error {
	if !folder.IsVisible() {
		return nil
	}
	for _, f := range r.store.folders {
		if f.ID != folder.ID && f.ProjectID == folder.ProjectID && sameParent(f.ParentID, folder.ParentID) &&
			f.IsVisible() && sameName(f.Name, folder.Name) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("a folder named %q already exists in this location", folder.Name),
				Reason:       domain.ConflictDuplicateName,
				ResourceType: "folder",
				ResourceID:   f.ID,
			}
		}
	}
	return nil
}

func compareSiblings(a, b models.Folder) int {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder - b.SortOrder
	}
	if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func sortSiblings(folders []models.Folder) {
	slices.SortFunc(folders, compareSiblings)
}
