package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"

	"filevault/internal/repository/postgres"
)

const fileColumns = `id, project_id, folder_id, name, extension, mime_type, file_type, current_size, current_hash, ` +
	`current_version_id, version_count, checked_out_by, checked_out_at, expected_checkin_at, download_count, ` +
	`view_count, share_count, last_accessed_at, last_accessed_by, tags, metadata, ` + auditColumns

// PostgresFileRepository implements the FileRepository interface
type PostgresFileRepository struct {
	pool   postgres.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

var _ vaultRepo.FileRepository = (*PostgresFileRepository)(nil)

// NewFileRepository creates a new file repository
func NewFileRepository(config *postgres.RepositoryConfig) vaultRepo.FileRepository {
	return &PostgresFileRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanFile(row scanner) (*models.File, error) {
	var f models.File
	dest := []any{&f.ID, &f.ProjectID, &f.FolderID, &f.Name, &f.Extension, &f.MimeType, &f.FileType,
		&f.CurrentSize, &f.CurrentHash, &f.CurrentVersionID, &f.VersionCount, &f.CheckedOutBy, &f.CheckedOutAt,
		&f.ExpectedCheckinAt, &f.DownloadCount, &f.ViewCount, &f.ShareCount, &f.LastAccessedAt, &f.LastAccessedBy,
		&f.Tags, &f.Metadata}
	if err := row.Scan(append(dest, auditDest(&f.Audit)...)...); err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a new file
func (r *PostgresFileRepository) Create(ctx context.Context, file *models.File) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.tables.Files, fileColumns, placeholders(1, 30))

	args := []any{file.ID, file.ProjectID, file.FolderID, file.Name, file.Extension, file.MimeType, file.FileType,
		file.CurrentSize, file.CurrentHash, file.CurrentVersionID, file.VersionCount, file.CheckedOutBy,
		file.CheckedOutAt, file.ExpectedCheckinAt, file.DownloadCount, file.ViewCount, file.ShareCount,
		file.LastAccessedAt, file.LastAccessedBy, tagsOrEmpty(file.Tags), file.Metadata}

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, append(args, auditArgs(&file.Audit)...)...); err != nil {
		return r.mapWriteError(ctx, file, err)
	}
	return nil
}

// GetByID retrieves a file by ID
func (r *PostgresFileRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, fileColumns, r.tables.Files)

	executor := postgres.GetExecutor(ctx, r.pool)
	file, err := scanFile(executor.QueryRow(ctx, query, id))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

// Update writes metadata and the current-version cache. Lock state and
// counters are owned by their conditional statements and left untouched.
func (r *PostgresFileRepository) Update(ctx context.Context, file *models.File) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET folder_id = $1, name = $2, extension = $3, mime_type = $4, file_type = $5,
		    current_size = $6, current_hash = $7, current_version_id = $8, version_count = $9,
		    tags = $10, metadata = $11, updated_at = $12, updated_by = $13, deleted = $14,
		    deleted_by = $15, deleted_at = $16, delete_reason = $17, version = version + 1
		WHERE id = $18 AND version = $19
		RETURNING version
	`, r.tables.Files)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		file.FolderID, file.Name, file.Extension, file.MimeType, file.FileType,
		file.CurrentSize, file.CurrentHash, file.CurrentVersionID, file.VersionCount,
		tagsOrEmpty(file.Tags), file.Metadata, file.UpdatedAt, file.UpdatedBy, file.Deleted,
		file.DeletedBy, file.DeletedAt, file.DeleteReason, file.ID, file.Version,
	).Scan(&file.Version)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return missingOrStale(ctx, executor, r.tables.Files, "file", file.ID, file.Version)
		}
		return r.mapWriteError(ctx, file, err)
	}
	return nil
}

// ListByFolder lists files directly inside a folder
func (r *PostgresFileRepository) ListByFolder(ctx context.Context, folderID string) ([]models.File, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE folder_id = $1
		ORDER BY lower(name), id
	`, fileColumns, r.tables.Files)

	return r.query(ctx, "list folder files", query, folderID)
}

// ListByProject lists all files of a project
func (r *PostgresFileRepository) ListByProject(ctx context.Context, projectID string) ([]models.File, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE project_id = $1
		ORDER BY lower(name), id
	`, fileColumns, r.tables.Files)

	return r.query(ctx, "list project files", query, projectID)
}

// FindByName returns the visible file in a folder matching name
// case-insensitively
func (r *PostgresFileRepository) FindByName(ctx context.Context, folderID, name string) (*models.File, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE folder_id = $1 AND NOT deleted AND lower(btrim(name)) = lower(btrim($2))
		LIMIT 1
	`, fileColumns, r.tables.Files)

	executor := postgres.GetExecutor(ctx, r.pool)
	file, err := scanFile(executor.QueryRow(ctx, query, folderID, name))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find file by name: %w", err)
	}
	return file, nil
}

// IncrementCounters adds delta in a single statement so concurrent bumps
// never lose an update
func (r *PostgresFileRepository) IncrementCounters(ctx context.Context, id string, delta models.CounterDelta, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET download_count = download_count + $1,
		    view_count = view_count + $2,
		    share_count = share_count + $3,
		    last_accessed_by = COALESCE($4, last_accessed_by),
		    last_accessed_at = CASE WHEN $4::text IS NULL THEN last_accessed_at ELSE $5 END,
		    version = version + 1
		WHERE id = $6
	`, r.tables.Files)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, delta.Downloads, delta.Views, delta.Shares, delta.AccessedBy, at, id)
	if err != nil {
		return fmt.Errorf("increment file counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AcquireCheckout takes the lock only while no holder is set
func (r *PostgresFileRepository) AcquireCheckout(ctx context.Context, id, userID string, at, expectedCheckin time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET checked_out_by = $1, checked_out_at = $2, expected_checkin_at = $3,
		    updated_by = $1, updated_at = $2, version = version + 1
		WHERE id = $4 AND checked_out_by IS NULL
	`, r.tables.Files)

	return r.conditional(ctx, "acquire checkout", id, query, userID, at, expectedCheckin, id)
}

// ReleaseCheckout clears the lock only if userID holds it
func (r *PostgresFileRepository) ReleaseCheckout(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET checked_out_by = NULL, checked_out_at = NULL, expected_checkin_at = NULL,
		    updated_by = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND checked_out_by = $1
	`, r.tables.Files)

	return r.conditional(ctx, "release checkout", id, query, userID, at, id)
}

// ForceReleaseCheckout clears any lock
func (r *PostgresFileRepository) ForceReleaseCheckout(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET checked_out_by = NULL, checked_out_at = NULL, expected_checkin_at = NULL,
		    updated_by = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND checked_out_by IS NOT NULL
	`, r.tables.Files)

	return r.conditional(ctx, "force release checkout", id, query, actor, at, id)
}

// ListOverdue lists checked-out, non-deleted files past their expected checkin
func (r *PostgresFileRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.File, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE NOT deleted AND checked_out_by IS NOT NULL AND expected_checkin_at < $1
		ORDER BY lower(name), id
	`, fileColumns, r.tables.Files)

	return r.query(ctx, "list overdue files", query, now)
}

// conditional runs a guarded UPDATE. Zero rows means the guard failed,
// unless the file is missing altogether.
func (r *PostgresFileRepository) conditional(ctx context.Context, op, id, query string, args ...any) (bool, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	if err := notFoundUnless(ctx, executor, r.tables.Files, "file", id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresFileRepository) query(ctx context.Context, op, query string, args ...any) ([]models.File, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func (r *PostgresFileRepository) mapWriteError(ctx context.Context, file *models.File, err error) error {
	switch postgres.ViolatedConstraint(err) {
	case r.tables.Index(r.tables.Files, postgres.IdxFileName):
		conflict := &domain.ConflictError{
			Message:      fmt.Sprintf("a file named %q already exists in this folder", file.Name),
			Reason:       domain.ConflictDuplicateName,
			ResourceType: "file",
		}
		if existing, findErr := r.FindByName(ctx, file.FolderID, file.Name); findErr == nil && existing != nil {
			conflict.ResourceID = existing.ID
		}
		return conflict
	case "":
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("file %s references a missing folder: %w", file.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("write file: %w", err)
	default:
		return fmt.Errorf("file %s: %w", file.ID, domain.ErrConflict)
	}
}
