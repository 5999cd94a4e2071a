package vault

import (
	"context"
	"time"

	models "filevault/internal/domain/models/vault"
)

// FileRepository defines data access operations for file entries
type FileRepository interface {
	// Create inserts a new file
	Create(ctx context.Context, file *models.File) error

	// GetByID retrieves a file, ErrNotFound if absent
	GetByID(ctx context.Context, id string) (*models.File, error)

	// Update writes mutable fields if file.Version matches, then increments it.
	// Checkout state and counters are not written here.
	Update(ctx context.Context, file *models.File) error

	// ListByFolder lists files directly inside a folder
	ListByFolder(ctx context.Context, folderID string) ([]models.File, error)

	// ListByProject lists all files of a project
	ListByProject(ctx context.Context, projectID string) ([]models.File, error)

	// FindByName returns the visible file in folderID whose name matches
	// case-insensitively, or nil
	FindByName(ctx context.Context, folderID, name string) (*models.File, error)

	// IncrementCounters atomically adds delta to the access counters
	IncrementCounters(ctx context.Context, id string, delta models.CounterDelta, at time.Time) error

	// AcquireCheckout sets the holder only if none is set. Returns false
	// when another holder already owns the lock.
	AcquireCheckout(ctx context.Context, id, userID string, at, expectedCheckin time.Time) (bool, error)

	// ReleaseCheckout clears the lock only if userID holds it
	ReleaseCheckout(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// ForceReleaseCheckout clears the lock unconditionally. Returns false if
	// the file was not checked out.
	ForceReleaseCheckout(ctx context.Context, id, actor string, at time.Time) (bool, error)

	// ListOverdue lists checked-out, non-deleted files past their expected checkin
	ListOverdue(ctx context.Context, now time.Time) ([]models.File, error)
}
