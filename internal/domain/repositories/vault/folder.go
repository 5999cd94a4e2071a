package vault

import (
	"context"
	"time"

	models "filevault/internal/domain/models/vault"
)

// FolderRepository defines data access operations for folders.
// Reads return soft-deleted and inactive rows too; services apply the
// active-view filter.
type FolderRepository interface {
	// Create inserts a new folder
	Create(ctx context.Context, folder *models.Folder) error

	// GetByID retrieves a folder, ErrNotFound if absent
	GetByID(ctx context.Context, id string) (*models.Folder, error)

	// Update writes all mutable fields if folder.Version matches the stored
	// version, then increments it. ConcurrencyError otherwise.
	Update(ctx context.Context, folder *models.Folder) error

	// UpdatePlacement writes folder.Path and folder.Depth of a descendant
	// after its ancestor moved or was renamed. Guarded by folder.Version like
	// Update, which it bumps.
	UpdatePlacement(ctx context.Context, folder *models.Folder, actor string, at time.Time) error

	// LockProject serializes structural edits (create, rename, move) within
	// one project until the surrounding transaction ends
	LockProject(ctx context.Context, projectID string) error

	// ListChildren lists immediate children; parentID nil lists project roots
	ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Folder, error)

	// ListSubtree returns every descendant of id (not id itself), parents
	// before children
	ListSubtree(ctx context.Context, id string) ([]models.Folder, error)

	// ListByProject returns all folders of a project (flat list)
	ListByProject(ctx context.Context, projectID string) ([]models.Folder, error)

	// FindSibling returns the visible sibling whose name matches
	// case-insensitively, or nil
	FindSibling(ctx context.Context, projectID string, parentID *string, name string) (*models.Folder, error)
}
