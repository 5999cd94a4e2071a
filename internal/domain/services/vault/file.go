package vault

import (
	"context"

	models "filevault/internal/domain/models/vault"
)

// CreateFileRequest represents a request to create a file entry
type CreateFileRequest struct {
	FolderID  string         `json:"folder_id"`
	Name      string         `json:"name"`
	MimeType  string         `json:"mime_type"`
	FileType  string         `json:"file_type"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata"`
	CreatedBy string         `json:"created_by"`
}

// CreateVersionRequest describes a ledger append
type CreateVersionRequest struct {
	Label          string            `json:"label"`
	Actor          string            `json:"actor"`
	ChangeType     models.ChangeType `json:"change_type"`
	StorageLocator string            `json:"storage_locator"`
	Size           int64             `json:"size"`
	Hash           string            `json:"hash"`
	Notes          string            `json:"notes"`
}

// FileService owns file entries and their version ledger. It performs no
// authorization.
type FileService interface {
	// CreateFile creates a file entry in a visible folder
	CreateFile(ctx context.Context, req *CreateFileRequest) (*models.File, error)

	// GetFile retrieves a visible file
	GetFile(ctx context.Context, id string) (*models.File, error)

	// ListFiles lists visible files in a folder
	ListFiles(ctx context.Context, folderID string) ([]models.File, error)

	// CreateVersion appends a new current version and refreshes the file's
	// size/hash cache in the same transaction
	CreateVersion(ctx context.Context, fileID string, req *CreateVersionRequest) (*models.FileVersion, error)

	// CurrentVersion returns the flagged version, nil when none exists
	CurrentVersion(ctx context.Context, fileID string) (*models.FileVersion, error)

	// ListVersions lists the ledger newest first
	ListVersions(ctx context.Context, fileID string) ([]models.FileVersion, error)

	// RevertToVersion appends a copy of an older version as the new current one
	RevertToVersion(ctx context.Context, fileID, versionID, actor, notes string) (*models.FileVersion, error)

	// MarkAccessed bumps the view counter and the last-access stamp
	MarkAccessed(ctx context.Context, fileID, actor string) error

	// MarkDownloaded bumps the download counter and implies MarkAccessed
	MarkDownloaded(ctx context.Context, fileID, actor string) error

	// MarkShared bumps the share counter
	MarkShared(ctx context.Context, fileID string) error

	// SoftDelete flags the file deleted
	SoftDelete(ctx context.Context, id, actor, reason string) error

	// Restore reverses SoftDelete
	Restore(ctx context.Context, id, actor string) (*models.File, error)

	// SetTags replaces the file's tags with their normalized form
	SetTags(ctx context.Context, id string, tags []string, actor string) (*models.File, error)
}
