package vault

import "time"

// TreeNode is the root of a project's folder/file tree
type TreeNode struct {
	Folders []*FolderTreeNode `json:"folders"`
}

// FolderTreeNode represents a folder in the tree with nested children
type FolderTreeNode struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	Depth     int               `json:"depth"`
	ParentID  *string           `json:"parent_id"`
	SortOrder int               `json:"sort_order"`
	Folders   []*FolderTreeNode `json:"folders"` // Pointers for proper nesting
	Files     []FileTreeNode    `json:"files"`
}

// FileTreeNode represents a file in the tree (metadata only)
type FileTreeNode struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FolderID     string    `json:"folder_id"`
	CurrentSize  int64     `json:"current_size"`
	VersionCount int       `json:"version_count"`
	CheckedOut   bool      `json:"checked_out"`
	UpdatedAt    time.Time `json:"updated_at"`
}
