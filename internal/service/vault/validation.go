package vault

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"filevault/internal/config"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var noSlash = regexp.MustCompile(`^[^/]+$`)

// ResourceValidator applies the active-view predicate before operations on
// folders and files, so soft-deleted resources behave as absent
type ResourceValidator struct {
	folderRepo vaultRepo.FolderRepository
	fileRepo   vaultRepo.FileRepository
}

// NewResourceValidator creates a new resource validator
func NewResourceValidator(
	folderRepo vaultRepo.FolderRepository,
	fileRepo vaultRepo.FileRepository,
) *ResourceValidator {
	return &ResourceValidator{
		folderRepo: folderRepo,
		fileRepo:   fileRepo,
	}
}

// VisibleFolder returns the folder if it is active and not soft-deleted.
// Returns domain.ErrNotFound otherwise.
func (v *ResourceValidator) VisibleFolder(ctx context.Context, id string) (*models.Folder, error) {
	folder, err := v.folderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !folder.IsVisible() {
		return nil, fmt.Errorf("folder %s: %w", id, domain.ErrNotFound)
	}
	return folder, nil
}

// VisibleFile returns the file if it is not soft-deleted.
// Returns domain.ErrNotFound otherwise.
func (v *ResourceValidator) VisibleFile(ctx context.Context, id string) (*models.File, error) {
	file, err := v.fileRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !file.IsVisible() {
		return nil, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	return file, nil
}

// validationErr converts an ozzo error into a domain ValidationError
func validationErr(what string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.ValidationError{Message: fmt.Sprintf("invalid %s: %v", what, err)}
}

func nameRules(maxLength int) []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.RuneLength(1, maxLength),
		validation.Match(noSlash).Error("must not contain slashes"),
	}
}

func validateName(what, name string, maxLength int) error {
	return validationErr(what, validation.Validate(strings.TrimSpace(name), nameRules(maxLength)...))
}

func validateTags(tags []string) error {
	err := validation.Validate(tags,
		validation.Length(0, config.MaxTags),
		validation.Each(validation.RuneLength(0, config.MaxTagLength)),
	)
	return validationErr("tags", err)
}

func checkPathLength(path string) error {
	if len(path) > config.MaxFolderPathLength {
		return &domain.ValidationError{
			Message: fmt.Sprintf("folder path exceeds %d bytes", config.MaxFolderPathLength),
		}
	}
	return nil
}
