package vault

import (
	"context"

	models "filevault/internal/domain/models/vault"
)

// CheckoutService implements the advisory checkout lock:
// Unlocked -> CheckedOut(holder) -> Unlocked
type CheckoutService interface {
	// Checkout acquires the lock; expectedHours <= 0 uses the configured default
	Checkout(ctx context.Context, fileID, userID string, expectedHours int) (*models.File, error)

	// Checkin releases the lock; only the holder may do so
	Checkin(ctx context.Context, fileID, userID string) (*models.File, error)

	// ForceCheckin releases the lock regardless of holder
	ForceCheckin(ctx context.Context, fileID, adminID string) (*models.File, error)

	// IsOverdue reports whether the lock is held past its expected checkin
	IsOverdue(ctx context.Context, fileID string) (bool, error)

	// ListOverdue lists all overdue checkouts
	ListOverdue(ctx context.Context) ([]models.File, error)
}
