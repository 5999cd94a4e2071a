package vault

import (
	"context"
	"time"

	models "filevault/internal/domain/models/vault"
)

// GrantRequest represents a request to grant capabilities to a subject
type GrantRequest struct {
	FileID       string            `json:"file_id"`
	Subject      models.Subject    `json:"subject"`
	Capabilities models.Capability `json:"capabilities"`
	GrantedBy    string            `json:"granted_by"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Notes        string            `json:"notes"`
}

// GrantPresetRequest grants a named capability bundle
type GrantPresetRequest struct {
	FileID    string         `json:"file_id"`
	Subject   models.Subject `json:"subject"`
	Preset    string         `json:"preset"`
	GrantedBy string         `json:"granted_by"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// PermissionService resolves per-subject capability grants on files
type PermissionService interface {
	// Grant creates a new active row for (file, subject)
	Grant(ctx context.Context, req *GrantRequest) (*models.FilePermission, error)

	// GrantPreset grants a bundle from the preset registry
	GrantPreset(ctx context.Context, req *GrantPresetRequest) (*models.FilePermission, error)

	// Revoke deactivates a row; ConflictError if already revoked
	Revoke(ctx context.Context, permissionID, revokedBy, reason string) (*models.FilePermission, error)

	// Restore clears a revocation; ConflictError if never revoked
	Restore(ctx context.Context, permissionID, restoredBy, reason string) (*models.FilePermission, error)

	// ExtendExpiry moves the expiry forward; ValidationError if not in the future
	ExtendExpiry(ctx context.Context, permissionID string, newExpiry time.Time, actor string) (*models.FilePermission, error)

	// HasPermission checks one capability in the subject's effective set
	HasPermission(ctx context.Context, fileID string, subject models.Subject, c models.Capability) (bool, error)

	// EffectiveCapabilities returns the union of the subject's effective rows
	EffectiveCapabilities(ctx context.Context, fileID string, subject models.Subject) (models.Capability, error)

	// GetLevel derives the access level from the effective set
	GetLevel(ctx context.Context, fileID string, subject models.Subject) (models.Level, error)

	// EffectiveLevel derives the access level of a single row
	EffectiveLevel(ctx context.Context, permissionID string) (models.Level, error)

	// ListForFile lists every row for a file
	ListForFile(ctx context.Context, fileID string) ([]models.FilePermission, error)
}
