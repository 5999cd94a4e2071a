package vault

import (
	"context"

	models "filevault/internal/domain/models/vault"
)

// PermissionRepository defines data access operations for permission grants
type PermissionRepository interface {
	// Create inserts a grant. A second active row for the same
	// (file, subject) is rejected with a ConflictError.
	Create(ctx context.Context, perm *models.FilePermission) error

	// GetByID retrieves a grant, ErrNotFound if absent
	GetByID(ctx context.Context, id string) (*models.FilePermission, error)

	// Update writes mutable fields if perm.Version matches, then increments it
	Update(ctx context.Context, perm *models.FilePermission) error

	// ListBySubject lists every row for (file, subject), effective or not
	ListBySubject(ctx context.Context, fileID string, subject models.Subject) ([]models.FilePermission, error)

	// ListByFile lists every row for a file
	ListByFile(ctx context.Context, fileID string) ([]models.FilePermission, error)
}
