package vault

import (
	"context"
	"time"

	models "filevault/internal/domain/models/vault"
)

// CreateShareRequest represents a request to expose a file via a token
type CreateShareRequest struct {
	FileID       string            `json:"file_id"`
	ShareType    models.ShareType  `json:"share_type"`
	Recipient    string            `json:"recipient"`
	Capabilities models.Capability `json:"capabilities"`
	MaxDownloads *int64            `json:"max_downloads,omitempty"`
	MaxViews     *int64            `json:"max_views,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Password     *string           `json:"password,omitempty"`
	Message      string            `json:"message"`
	CreatedBy    string            `json:"created_by"`
}

// AccessEvent carries the actor and network metadata of one share access
type AccessEvent struct {
	Type       models.AccessType `json:"type"`
	AccessedBy *string           `json:"accessed_by,omitempty"`
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	Referer    string            `json:"referer"`
}

// ResolvedShare is a share that passed every access check, with its
// remaining quota (nil = unlimited)
type ResolvedShare struct {
	Share              *models.FileShare `json:"share"`
	RemainingDownloads *int64            `json:"remaining_downloads,omitempty"`
	RemainingViews     *int64            `json:"remaining_views,omitempty"`
}

// ShareService exposes files through opaque tokens
type ShareService interface {
	// CreateShare issues a new token for a file
	CreateShare(ctx context.Context, req *CreateShareRequest) (*models.FileShare, error)

	// Resolve looks a token up and checks liveness, expiry, caps and rate
	Resolve(ctx context.Context, token string) (*ResolvedShare, error)

	// VerifyPassword compares a candidate against the share's password hash;
	// always true when the share has no password
	VerifyPassword(share *models.FileShare, candidate string) bool

	// RecordAccess logs an access and, for views and downloads, consumes
	// quota atomically with the cap check
	RecordAccess(ctx context.Context, token string, event *AccessEvent) (*models.ShareAccess, error)

	// RecordFailedAccess logs a rejected access attempt
	RecordFailedAccess(ctx context.Context, token string, event *AccessEvent, reason string) (*models.ShareAccess, error)

	// RotateToken replaces the token; the old one stops resolving immediately
	RotateToken(ctx context.Context, token, actor string) (*models.FileShare, error)

	// Deactivate turns the share off
	Deactivate(ctx context.Context, token, actor string) (*models.FileShare, error)

	// IsAccessible evaluates the accessibility predicate without consuming quota
	IsAccessible(ctx context.Context, token string) (bool, error)

	// ListAccessLog lists the share's access rows oldest first
	ListAccessLog(ctx context.Context, token string) ([]models.ShareAccess, error)

	// ExpireStale deactivates active shares past their expiry
	ExpireStale(ctx context.Context, actor string) (int, error)
}
