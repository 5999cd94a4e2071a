package vault

import (
	"context"

	models "filevault/internal/domain/models/vault"
	"filevault/internal/telemetry"
)

// GetTree builds the nested tree of visible folders and files. Folders
// arrive ordered by depth and sort order, so appending keeps siblings sorted.
// A hidden folder drops out together with everything beneath it.
func (s *folderService) GetTree(ctx context.Context, projectID string) (*models.TreeNode, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "FolderService.GetTree")
	defer span.End()

	allFolders, err := s.folderRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	allFiles, err := s.fileRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// First pass: create nodes for visible folders
	folderMap := make(map[string]*models.FolderTreeNode, len(allFolders))
	for _, folder := range allFolders {
		if !folder.IsVisible() {
			continue
		}
		folderMap[folder.ID] = &models.FolderTreeNode{
			ID:        folder.ID,
			Name:      folder.Name,
			Path:      folder.Path,
			Depth:     folder.Depth,
			ParentID:  folder.ParentID,
			SortOrder: folder.SortOrder,
			Folders:   []*models.FolderTreeNode{},
			Files:     []models.FileTreeNode{},
		}
	}

	// Second pass: attach children to parents
	rootFolders := make([]*models.FolderTreeNode, 0)
	for _, folder := range allFolders {
		node, ok := folderMap[folder.ID]
		if !ok {
			continue
		}
		if folder.ParentID == nil {
			rootFolders = append(rootFolders, node)
		} else if parent, exists := folderMap[*folder.ParentID]; exists {
			parent.Folders = append(parent.Folders, node)
		}
	}

	// Third pass: add files to their folders
	fileCount := 0
	for _, file := range allFiles {
		if !file.IsVisible() {
			continue
		}
		parent, exists := folderMap[file.FolderID]
		if !exists {
			continue
		}
		parent.Files = append(parent.Files, models.FileTreeNode{
			ID:           file.ID,
			Name:         file.Name,
			FolderID:     file.FolderID,
			CurrentSize:  file.CurrentSize,
			VersionCount: file.VersionCount,
			CheckedOut:   file.IsCheckedOut(),
			UpdatedAt:    file.UpdatedAt,
		})
		fileCount++
	}

	s.logger.Debug("project tree built",
		"project_id", projectID,
		"folder_count", len(folderMap),
		"file_count", fileCount,
	)

	return &models.TreeNode{Folders: rootFolders}, nil
}
