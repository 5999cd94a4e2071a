package vault

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"filevault/internal/config"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	"filevault/internal/domain/repositories"
	vaultRepo "filevault/internal/domain/repositories/vault"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/metrics"
	"filevault/internal/telemetry"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type folderService struct {
	folderRepo vaultRepo.FolderRepository
	fileRepo   vaultRepo.FileRepository
	txManager  repositories.TransactionManager
	validator  *ResourceValidator
	metrics    metrics.Recorder
	clock      Clock
	logger     *slog.Logger
}

// NewFolderService creates a new folder service
func NewFolderService(
	folderRepo vaultRepo.FolderRepository,
	fileRepo vaultRepo.FileRepository,
	txManager repositories.TransactionManager,
	validator *ResourceValidator,
	recorder metrics.Recorder,
	clock Clock,
	logger *slog.Logger,
) vaultSvc.FolderService {
	return &folderService{
		folderRepo: folderRepo,
		fileRepo:   fileRepo,
		txManager:  txManager,
		validator:  validator,
		metrics:    recorder,
		clock:      clock,
		logger:     logger,
	}
}

func (s *folderService) validateCreate(req *vaultSvc.CreateFolderRequest, root bool) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.ProjectID, validation.When(root, validation.Required)),
		validation.Field(&req.CreatedBy, validation.Required),
	)
	if err != nil {
		return validationErr("folder request", err)
	}
	if err := validateName("folder name", req.Name, config.MaxFolderNameLength); err != nil {
		return err
	}
	return validateTags(req.Tags)
}

// CreateRoot creates a depth-0 folder
func (s *folderService) CreateRoot(ctx context.Context, req *vaultSvc.CreateFolderRequest) (*models.Folder, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "FolderService.CreateRoot")
	defer span.End()

	if err := s.validateCreate(req, true); err != nil {
		return nil, err
	}

	var folder *models.Folder
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		folder, err = s.create(ctx, req, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// CreateSubfolder creates a folder under a visible parent. The project is
// inherited from the parent.
func (s *folderService) CreateSubfolder(ctx context.Context, parentID string, req *vaultSvc.CreateFolderRequest) (*models.Folder, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "FolderService.CreateSubfolder")
	defer span.End()

	if err := s.validateCreate(req, false); err != nil {
		return nil, err
	}

	var folder *models.Folder
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		parent, err := s.lockedFolder(ctx, parentID)
		if err != nil {
			return err
		}
		if req.ProjectID != "" && req.ProjectID != parent.ProjectID {
			return &domain.ValidationError{
				Message: fmt.Sprintf("parent folder %s belongs to a different project", parentID),
			}
		}
		folder, err = s.create(ctx, req, parent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

func (s *folderService) create(ctx context.Context, req *vaultSvc.CreateFolderRequest, parent *models.Folder) (*models.Folder, error) {
	name := strings.TrimSpace(req.Name)
	projectID := req.ProjectID
	var parentID *string
	if parent != nil {
		projectID = parent.ProjectID
		parentID = &parent.ID
	}

	if err := s.checkSibling(ctx, projectID, parentID, name, ""); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	folder := &models.Folder{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
		Active:      true,
		Public:      req.Public,
		ReadOnly:    req.ReadOnly,
		Tags:        models.NormalizeTags(req.Tags),
		Metadata:    req.Metadata,
		Audit:       models.NewAudit(req.CreatedBy, now),
	}
	folder.Place(parent)
	if err := checkPathLength(folder.Path); err != nil {
		return nil, err
	}

	if err := s.folderRepo.Create(ctx, folder); err != nil {
		return nil, err
	}

	s.logger.Info("folder created",
		"id", folder.ID,
		"name", folder.Name,
		"project_id", folder.ProjectID,
		"parent_id", folder.ParentID,
		"path", folder.Path,
	)
	return folder, nil
}

// checkSibling rejects a visible sibling with the same name. selfID is
// ignored so a folder never collides with itself.
func (s *folderService) checkSibling(ctx context.Context, projectID string, parentID *string, name, selfID string) error {
	existing, err := s.folderRepo.FindSibling(ctx, projectID, parentID, name)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate names: %w", err)
	}
	if existing != nil && existing.ID != selfID {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("a folder named %q already exists in this location", name),
			Reason:       domain.ConflictDuplicateName,
			ResourceType: "folder",
			ResourceID:   existing.ID,
		}
	}
	return nil
}

// GetFolder retrieves a visible folder
func (s *folderService) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	return s.validator.VisibleFolder(ctx, id)
}

// Rename changes a folder's name and rewrites the paths of its subtree
func (s *folderService) Rename(ctx context.Context, id, newName, actor string) (*models.Folder, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "FolderService.Rename")
	defer span.End()

	if err := validateName("folder name", newName, config.MaxFolderNameLength); err != nil {
		return nil, err
	}
	newName = strings.TrimSpace(newName)

	var (
		folder    *models.Folder
		rewritten int
	)
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		folder, err = s.lockedFolder(ctx, id)
		if err != nil {
			return err
		}
		if folder.Name == newName {
			return nil
		}
		if err := s.checkSibling(ctx, folder.ProjectID, folder.ParentID, newName, folder.ID); err != nil {
			return err
		}

		parent, err := s.parentOf(ctx, folder)
		if err != nil {
			return err
		}
		descendants, err := s.folderRepo.ListSubtree(ctx, folder.ID)
		if err != nil {
			return fmt.Errorf("failed to list subtree: %w", err)
		}

		now := s.clock.Now()
		folder.Name = newName
		folder.Place(parent)
		if err := checkPathLength(folder.Path); err != nil {
			return err
		}
		folder.Touch(actor, now)
		if err := s.folderRepo.Update(ctx, folder); err != nil {
			return err
		}
		rewritten, err = s.rewriteSubtree(ctx, folder, descendants, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("folder.rewritten", rewritten))
	s.metrics.TreeRewrite("rename", rewritten+1)
	s.logger.Info("folder renamed",
		"id", folder.ID,
		"name", folder.Name,
		"path", folder.Path,
		"descendants_rewritten", rewritten,
	)
	return folder, nil
}

// Move rebinds a folder to a new parent (nil for the project root). The
// cycle check walks the full subtree, including hidden folders, before
// anything is written.
func (s *folderService) Move(ctx context.Context, id string, newParentID *string, actor string) (*models.Folder, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "FolderService.Move")
	defer span.End()

	if newParentID != nil && *newParentID == "" {
		newParentID = nil
	}

	var (
		folder    *models.Folder
		rewritten int
	)
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		folder, err = s.lockedFolder(ctx, id)
		if err != nil {
			return err
		}

		descendants, err := s.folderRepo.ListSubtree(ctx, folder.ID)
		if err != nil {
			return fmt.Errorf("failed to list subtree: %w", err)
		}

		var parent *models.Folder
		if newParentID != nil {
			if err := validateNoCycle(folder.ID, *newParentID, descendants); err != nil {
				return err
			}
			parent, err = s.validator.VisibleFolder(ctx, *newParentID)
			if err != nil {
				return err
			}
			if parent.ProjectID != folder.ProjectID {
				return &domain.ValidationError{
					Message: fmt.Sprintf("cannot move folder %s across projects", folder.ID),
				}
			}
		}

		if sameParentID(folder.ParentID, newParentID) {
			return nil
		}
		if err := s.checkSibling(ctx, folder.ProjectID, newParentID, folder.Name, folder.ID); err != nil {
			return err
		}

		now := s.clock.Now()
		folder.Place(parent)
		if err := checkPathLength(folder.Path); err != nil {
			return err
		}
		folder.Touch(actor, now)
		if err := s.folderRepo.Update(ctx, folder); err != nil {
			return err
		}
		rewritten, err = s.rewriteSubtree(ctx, folder, descendants, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("folder.rewritten", rewritten))
	s.metrics.TreeRewrite("move", rewritten+1)
	s.logger.Info("folder moved",
		"id", folder.ID,
		"parent_id", folder.ParentID,
		"path", folder.Path,
		"depth", folder.Depth,
		"descendants_rewritten", rewritten,
	)
	return folder, nil
}

// validateNoCycle rejects moving a folder into itself or any descendant
func validateNoCycle(folderID, targetID string, descendants []models.Folder) error {
	cycle := targetID == folderID ||
		slices.ContainsFunc(descendants, func(d models.Folder) bool { return d.ID == targetID })
	if cycle {
		return &domain.ConflictError{
			Message:      "cannot move folder into itself or one of its descendants",
			Reason:       domain.ConflictMoveCycle,
			ResourceType: "folder",
			ResourceID:   folderID,
		}
	}
	return nil
}

// rewriteSubtree recomputes path and depth for every descendant, hidden ones
// included. descendants must list parents before their children.
func (s *folderService) rewriteSubtree(ctx context.Context, root *models.Folder, descendants []models.Folder, actor string, now time.Time) (int, error) {
	placed := map[string]*models.Folder{root.ID: root}
	for i := range descendants {
		d := &descendants[i]
		if d.ParentID == nil {
			return 0, fmt.Errorf("folder %s: descendant without parent", d.ID)
		}
		parent, ok := placed[*d.ParentID]
		if !ok {
			return 0, fmt.Errorf("folder %s: parent %s not yet placed", d.ID, *d.ParentID)
		}
		d.Place(parent)
		if err := checkPathLength(d.Path); err != nil {
			return 0, err
		}
		placed[d.ID] = d
	}

	for i := range descendants {
		d := &descendants[i]
		if err := s.folderRepo.UpdatePlacement(ctx, d, actor, now); err != nil {
			return 0, fmt.Errorf("failed to rewrite folder %s: %w", d.ID, err)
		}
	}
	return len(descendants), nil
}

// lockedFolder loads a visible folder under its project's structural lock.
// The folder is read again once the lock is held so placement and subtree
// reflect every edit committed before it.
func (s *folderService) lockedFolder(ctx context.Context, id string) (*models.Folder, error) {
	folder, err := s.validator.VisibleFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.folderRepo.LockProject(ctx, folder.ProjectID); err != nil {
		return nil, err
	}
	return s.validator.VisibleFolder(ctx, id)
}

func (s *folderService) parentOf(ctx context.Context, folder *models.Folder) (*models.Folder, error) {
	if folder.ParentID == nil {
		return nil, nil
	}
	return s.folderRepo.GetByID(ctx, *folder.ParentID)
}

// Descendants yields visible descendants breadth-first. A hidden folder
// hides its whole subtree.
func (s *folderService) Descendants(ctx context.Context, id string) iter.Seq2[*models.Folder, error] {
	return func(yield func(*models.Folder, error) bool) {
		root, err := s.GetFolder(ctx, id)
		if err != nil {
			yield(nil, err)
			return
		}

		queue := []*models.Folder{root}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			children, err := s.folderRepo.ListChildren(ctx, current.ProjectID, &current.ID)
			if err != nil {
				yield(nil, err)
				return
			}
			for i := range children {
				child := &children[i]
				if !child.IsVisible() {
					continue
				}
				if !yield(child, nil) {
					return
				}
				queue = append(queue, child)
			}
		}
	}
}

// DescendantFiles yields visible files in the folder and its visible
// descendants
func (s *folderService) DescendantFiles(ctx context.Context, id string) iter.Seq2[*models.File, error] {
	return func(yield func(*models.File, error) bool) {
		if _, err := s.GetFolder(ctx, id); err != nil {
			yield(nil, err)
			return
		}

		visit := func(folderID string) bool {
			files, err := s.fileRepo.ListByFolder(ctx, folderID)
			if err != nil {
				yield(nil, err)
				return false
			}
			for i := range files {
				if !files[i].IsVisible() {
					continue
				}
				if !yield(&files[i], nil) {
					return false
				}
			}
			return true
		}

		if !visit(id) {
			return
		}
		for folder, err := range s.Descendants(ctx, id) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !visit(folder.ID) {
				return
			}
		}
	}
}

// Breadcrumb walks parent links up to the root and returns root first
func (s *folderService) Breadcrumb(ctx context.Context, id string) ([]models.Folder, error) {
	folder, err := s.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	trail := []models.Folder{*folder}
	seen := map[string]bool{folder.ID: true}
	for current := folder; current.ParentID != nil; {
		if seen[*current.ParentID] {
			return nil, fmt.Errorf("folder %s: cycle in ancestry", id)
		}
		current, err = s.folderRepo.GetByID(ctx, *current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load ancestor: %w", err)
		}
		seen[current.ID] = true
		trail = append(trail, *current)
	}
	slices.Reverse(trail)
	return trail, nil
}

// ListChildren lists visible children of a folder, or the project's roots
func (s *folderService) ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Folder, error) {
	if parentID != nil && *parentID == "" {
		parentID = nil
	}
	if parentID != nil {
		parent, err := s.GetFolder(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		projectID = parent.ProjectID
	}

	children, err := s.folderRepo.ListChildren(ctx, projectID, parentID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(children, func(f models.Folder) bool { return !f.IsVisible() }), nil
}

// SoftDelete flags a folder deleted. Its descendants stay as they are and
// are hidden by the active-view predicate.
func (s *folderService) SoftDelete(ctx context.Context, id, actor, reason string) error {
	folder, err := s.GetFolder(ctx, id)
	if err != nil {
		return err
	}
	folder.MarkDeleted(actor, reason, s.clock.Now())
	if err := s.folderRepo.Update(ctx, folder); err != nil {
		return err
	}

	s.logger.Info("folder deleted", "id", folder.ID, "path", folder.Path, "actor", actor)
	return nil
}

// Restore reverses SoftDelete. A visible sibling that took the name in the
// meantime makes it fail with a conflict.
func (s *folderService) Restore(ctx context.Context, id, actor string) (*models.Folder, error) {
	folder, err := s.folderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !folder.Deleted {
		return folder, nil
	}
	folder.ClearDeleted(actor, s.clock.Now())
	if err := s.folderRepo.Update(ctx, folder); err != nil {
		return nil, err
	}

	s.logger.Info("folder restored", "id", folder.ID, "path", folder.Path, "actor", actor)
	return folder, nil
}

func (s *folderService) SetTags(ctx context.Context, id string, tags []string, actor string) (*models.Folder, error) {
	if err := validateTags(tags); err != nil {
		return nil, err
	}
	folder, err := s.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	folder.Tags = models.NormalizeTags(tags)
	folder.Touch(actor, s.clock.Now())
	if err := s.folderRepo.Update(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

func sameParentID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
