package vault

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"filevault/internal/config"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	"filevault/internal/domain/repositories"
	vaultRepo "filevault/internal/domain/repositories/vault"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/telemetry"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type fileService struct {
	fileRepo    vaultRepo.FileRepository
	versionRepo vaultRepo.VersionRepository
	txManager   repositories.TransactionManager
	validator   *ResourceValidator
	clock       Clock
	logger      *slog.Logger
}

// NewFileService creates a new file service
func NewFileService(
	fileRepo vaultRepo.FileRepository,
	versionRepo vaultRepo.VersionRepository,
	txManager repositories.TransactionManager,
	validator *ResourceValidator,
	clock Clock,
	logger *slog.Logger,
) vaultSvc.FileService {
	return &fileService{
		fileRepo:    fileRepo,
		versionRepo: versionRepo,
		txManager:   txManager,
		validator:   validator,
		clock:       clock,
		logger:      logger,
	}
}

// CreateFile creates a file entry with no versions
func (s *fileService) CreateFile(ctx context.Context, req *vaultSvc.CreateFileRequest) (*models.File, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.FolderID, validation.Required),
		validation.Field(&req.CreatedBy, validation.Required),
	)
	if err != nil {
		return nil, validationErr("file request", err)
	}
	if err := validateName("file name", req.Name, config.MaxFileNameLength); err != nil {
		return nil, err
	}
	if err := validateTags(req.Tags); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)

	var file *models.File
	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		folder, err := s.validator.VisibleFolder(ctx, req.FolderID)
		if err != nil {
			return err
		}

		existing, err := s.fileRepo.FindByName(ctx, folder.ID, name)
		if err != nil {
			return fmt.Errorf("failed to check for duplicate names: %w", err)
		}
		if existing != nil {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("a file named %q already exists in this folder", name),
				Reason:       domain.ConflictDuplicateName,
				ResourceType: "file",
				ResourceID:   existing.ID,
			}
		}

		file = &models.File{
			ID:        uuid.NewString(),
			ProjectID: folder.ProjectID,
			FolderID:  folder.ID,
			Name:      name,
			Extension: models.ExtensionOf(name),
			MimeType:  req.MimeType,
			FileType:  req.FileType,
			Tags:      models.NormalizeTags(req.Tags),
			Metadata:  req.Metadata,
			Audit:     models.NewAudit(req.CreatedBy, s.clock.Now()),
		}
		return s.fileRepo.Create(ctx, file)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("file created",
		"id", file.ID,
		"name", file.Name,
		"folder_id", file.FolderID,
		"project_id", file.ProjectID,
	)
	return file, nil
}

func (s *fileService) GetFile(ctx context.Context, id string) (*models.File, error) {
	return s.validator.VisibleFile(ctx, id)
}

func (s *fileService) ListFiles(ctx context.Context, folderID string) ([]models.File, error) {
	if _, err := s.validator.VisibleFolder(ctx, folderID); err != nil {
		return nil, err
	}
	files, err := s.fileRepo.ListByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(files, func(f models.File) bool { return !f.IsVisible() }), nil
}

// CreateVersion appends a version and makes it current. Unflagging the
// previous version, inserting the new one and refreshing the file's cache
// happen in one transaction, so readers see exactly one current version.
func (s *fileService) CreateVersion(ctx context.Context, fileID string, req *vaultSvc.CreateVersionRequest) (*models.FileVersion, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "FileService.CreateVersion")
	defer span.End()

	err := validation.ValidateStruct(req,
		validation.Field(&req.Actor, validation.Required),
		validation.Field(&req.StorageLocator, validation.Required),
		validation.Field(&req.Hash, validation.Required),
		validation.Field(&req.Size, validation.Min(int64(0))),
		validation.Field(&req.ChangeType, validation.By(func(any) error {
			if req.ChangeType != "" && !req.ChangeType.Valid() {
				return fmt.Errorf("unknown change type %q", req.ChangeType)
			}
			return nil
		})),
	)
	if err != nil {
		return nil, validationErr("version request", err)
	}

	var version *models.FileVersion
	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		file, err := s.validator.VisibleFile(ctx, fileID)
		if err != nil {
			return err
		}

		number, err := s.versionRepo.NextVersionNumber(ctx, file.ID)
		if err != nil {
			return fmt.Errorf("failed to allocate version number: %w", err)
		}

		now := s.clock.Now()
		if err := s.versionRepo.ClearCurrent(ctx, file.ID, req.Actor, now); err != nil {
			return fmt.Errorf("failed to clear current version: %w", err)
		}

		changeType := req.ChangeType
		if changeType == "" {
			changeType = models.ChangeUpdate
			if number == 1 {
				changeType = models.ChangeCreate
			}
		}
		label := strings.TrimSpace(req.Label)
		if label == "" {
			label = fmt.Sprintf("v%d", number)
		}

		version = &models.FileVersion{
			ID:             uuid.NewString(),
			FileID:         file.ID,
			VersionNumber:  number,
			Label:          label,
			ChangeType:     changeType,
			Size:           req.Size,
			Hash:           req.Hash,
			StorageLocator: req.StorageLocator,
			Notes:          req.Notes,
			IsCurrent:      true,
			Audit:          models.NewAudit(req.Actor, now),
		}
		if err := s.versionRepo.Create(ctx, version); err != nil {
			return err
		}

		file.CurrentSize = version.Size
		file.CurrentHash = version.Hash
		file.CurrentVersionID = &version.ID
		file.VersionCount++
		file.Touch(req.Actor, now)
		return s.fileRepo.Update(ctx, file)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("version.number", version.VersionNumber))
	s.logger.Info("file version created",
		"file_id", fileID,
		"version_id", version.ID,
		"version_number", version.VersionNumber,
		"change_type", version.ChangeType,
		"size", version.Size,
	)
	return version, nil
}

func (s *fileService) CurrentVersion(ctx context.Context, fileID string) (*models.FileVersion, error) {
	if _, err := s.validator.VisibleFile(ctx, fileID); err != nil {
		return nil, err
	}
	return s.versionRepo.GetCurrent(ctx, fileID)
}

func (s *fileService) ListVersions(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	if _, err := s.validator.VisibleFile(ctx, fileID); err != nil {
		return nil, err
	}
	return s.versionRepo.ListByFile(ctx, fileID)
}

// RevertToVersion appends a new version carrying an older version's content.
// The ledger is never rewound.
func (s *fileService) RevertToVersion(ctx context.Context, fileID, versionID, actor, notes string) (*models.FileVersion, error) {
	var version *models.FileVersion
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		source, err := s.versionRepo.GetByID(ctx, versionID)
		if err != nil {
			return err
		}
		if source.FileID != fileID {
			return fmt.Errorf("version %s of file %s: %w", versionID, fileID, domain.ErrNotFound)
		}
		if notes == "" {
			notes = fmt.Sprintf("restored from version %d", source.VersionNumber)
		}
		version, err = s.CreateVersion(ctx, fileID, &vaultSvc.CreateVersionRequest{
			Actor:          actor,
			ChangeType:     models.ChangeRestore,
			StorageLocator: source.StorageLocator,
			Size:           source.Size,
			Hash:           source.Hash,
			Notes:          notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (s *fileService) MarkAccessed(ctx context.Context, fileID, actor string) error {
	return s.bump(ctx, fileID, models.CounterDelta{Views: 1, AccessedBy: &actor})
}

func (s *fileService) MarkDownloaded(ctx context.Context, fileID, actor string) error {
	return s.bump(ctx, fileID, models.CounterDelta{Downloads: 1, Views: 1, AccessedBy: &actor})
}

func (s *fileService) MarkShared(ctx context.Context, fileID string) error {
	return s.bump(ctx, fileID, models.CounterDelta{Shares: 1})
}

func (s *fileService) bump(ctx context.Context, fileID string, delta models.CounterDelta) error {
	if _, err := s.validator.VisibleFile(ctx, fileID); err != nil {
		return err
	}
	return s.fileRepo.IncrementCounters(ctx, fileID, delta, s.clock.Now())
}

func (s *fileService) SoftDelete(ctx context.Context, id, actor, reason string) error {
	file, err := s.validator.VisibleFile(ctx, id)
	if err != nil {
		return err
	}
	file.MarkDeleted(actor, reason, s.clock.Now())
	if err := s.fileRepo.Update(ctx, file); err != nil {
		return err
	}

	s.logger.Info("file deleted", "id", file.ID, "name", file.Name, "actor", actor)
	return nil
}

func (s *fileService) Restore(ctx context.Context, id, actor string) (*models.File, error) {
	file, err := s.fileRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !file.Deleted {
		return file, nil
	}
	file.ClearDeleted(actor, s.clock.Now())
	if err := s.fileRepo.Update(ctx, file); err != nil {
		return nil, err
	}

	s.logger.Info("file restored", "id", file.ID, "name", file.Name, "actor", actor)
	return file, nil
}

func (s *fileService) SetTags(ctx context.Context, id string, tags []string, actor string) (*models.File, error) {
	if err := validateTags(tags); err != nil {
		return nil, err
	}
	file, err := s.validator.VisibleFile(ctx, id)
	if err != nil {
		return nil, err
	}
	file.Tags = models.NormalizeTags(tags)
	file.Touch(actor, s.clock.Now())
	if err := s.fileRepo.Update(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}
