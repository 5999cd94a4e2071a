package vault

import (
	"context"
	"iter"

	models "filevault/internal/domain/models/vault"
)

// CreateFolderRequest represents a request to create a root or subfolder
type CreateFolderRequest struct {
	ProjectID   string         `json:"project_id"` // required for roots, derived from the parent otherwise
	Name        string         `json:"name"`
	Description string         `json:"description"`
	SortOrder   int            `json:"sort_order"`
	Public      bool           `json:"public"`
	ReadOnly    bool           `json:"read_only"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	CreatedBy   string         `json:"created_by"`
}

// FolderService owns the folder forest and its path/depth invariants
type FolderService interface {
	// CreateRoot creates a depth-0 folder in a project
	CreateRoot(ctx context.Context, req *CreateFolderRequest) (*models.Folder, error)

	// CreateSubfolder creates a folder under parentID
	CreateSubfolder(ctx context.Context, parentID string, req *CreateFolderRequest) (*models.Folder, error)

	// GetFolder retrieves a visible folder
	GetFolder(ctx context.Context, id string) (*models.Folder, error)

	// Rename changes the name and rewrites the path of the whole subtree
	Rename(ctx context.Context, id, newName, actor string) (*models.Folder, error)

	// Move rebinds the parent (nil = project root) and rewrites depth and
	// path of the whole subtree in one transaction
	Move(ctx context.Context, id string, newParentID *string, actor string) (*models.Folder, error)

	// Descendants lazily yields visible descendant folders
	Descendants(ctx context.Context, id string) iter.Seq2[*models.Folder, error]

	// DescendantFiles lazily yields visible files under visible descendants
	DescendantFiles(ctx context.Context, id string) iter.Seq2[*models.File, error]

	// Breadcrumb returns the ancestry root -> id inclusive
	Breadcrumb(ctx context.Context, id string) ([]models.Folder, error)

	// ListChildren lists visible children; parentID nil lists roots
	ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Folder, error)

	// GetTree builds the nested tree of visible folders and files
	GetTree(ctx context.Context, projectID string) (*models.TreeNode, error)

	// SoftDelete flags the folder deleted; descendants are untouched
	SoftDelete(ctx context.Context, id, actor, reason string) error

	// Restore reverses SoftDelete
	Restore(ctx context.Context, id, actor string) (*models.Folder, error)

	// SetTags replaces the folder's tags with their normalized form
	SetTags(ctx context.Context, id string, tags []string, actor string) (*models.Folder, error)
}
