package vault

import (
	"context"
	"time"

	models "filevault/internal/domain/models/vault"
)

// VersionRepository defines data access operations for the version ledger
type VersionRepository interface {
	// Create appends a version
	Create(ctx context.Context, version *models.FileVersion) error

	// GetByID retrieves a version, ErrNotFound if absent
	GetByID(ctx context.Context, id string) (*models.FileVersion, error)

	// GetCurrent returns the flagged version or nil when none exists
	GetCurrent(ctx context.Context, fileID string) (*models.FileVersion, error)

	// ListByFile lists versions newest first
	ListByFile(ctx context.Context, fileID string) ([]models.FileVersion, error)

	// ClearCurrent unflags the current version of a file, if any
	ClearCurrent(ctx context.Context, fileID, actor string, at time.Time) error

	// NextVersionNumber returns max(version_number)+1 for the file
	NextVersionNumber(ctx context.Context, fileID string) (int, error)
}
