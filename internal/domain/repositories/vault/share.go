package vault

import (
	"context"
	"time"

	models "filevault/internal/domain/models/vault"
)

// UsageStamp describes who consumed a share and from where
type UsageStamp struct {
	At time.Time
	By *string
	IP string
}

// ShareRepository defines data access operations for shares
type ShareRepository interface {
	// Create inserts a share. A token collision returns a ConflictError
	// with reason ConflictDuplicateToken.
	Create(ctx context.Context, share *models.FileShare) error

	// GetByID retrieves a share, ErrNotFound if absent
	GetByID(ctx context.Context, id string) (*models.FileShare, error)

	// GetByToken retrieves a share by token, ErrNotFound if absent
	GetByToken(ctx context.Context, token string) (*models.FileShare, error)

	// Update writes mutable fields (including the token) if share.Version
	// matches, then increments it
	Update(ctx context.Context, share *models.FileShare) error

	// ConsumeUsage increments the download or view counter only while it is
	// below its cap and the share is still active, undeleted and reachable
	// through token. Returns false when the cap is already met, and
	// ErrNotFound when the share was deactivated, deleted or re-tokened.
	ConsumeUsage(ctx context.Context, id, token string, accessType models.AccessType, stamp UsageStamp) (bool, error)

	// ListByFile lists every share of a file
	ListByFile(ctx context.Context, fileID string) ([]models.FileShare, error)

	// ListExpiredActive lists active shares whose expiry has passed
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.FileShare, error)
}

// AccessLogRepository stores the append-only share access log
type AccessLogRepository interface {
	// Append writes one access row
	Append(ctx context.Context, access *models.ShareAccess) error

	// ListByShare lists access rows oldest first
	ListByShare(ctx context.Context, shareID string) ([]models.ShareAccess, error)
}
