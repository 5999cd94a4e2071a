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

const versionColumns = `id, file_id, version_number, label, change_type, size, hash, storage_locator, notes, is_current, ` + auditColumns

// PostgresVersionRepository implements the VersionRepository interface
type PostgresVersionRepository struct {
	pool   postgres.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

var _ vaultRepo.VersionRepository = (*PostgresVersionRepository)(nil)

// NewVersionRepository creates a new version repository
func NewVersionRepository(config *postgres.RepositoryConfig) vaultRepo.VersionRepository {
	return &PostgresVersionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanVersion(row scanner) (*models.FileVersion, error) {
	var v models.FileVersion
	dest := []any{&v.ID, &v.FileID, &v.VersionNumber, &v.Label, &v.ChangeType, &v.Size, &v.Hash,
		&v.StorageLocator, &v.Notes, &v.IsCurrent}
	if err := row.Scan(append(dest, auditDest(&v.Audit)...)...); err != nil {
		return nil, err
	}
	return &v, nil
}

// Create appends a version. The unique indexes on (file, number) and on
// the current flag turn a racing append into ErrConflict.
func (r *PostgresVersionRepository) Create(ctx context.Context, version *models.FileVersion) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.tables.FileVersions, versionColumns, placeholders(1, 19))

	args := []any{version.ID, version.FileID, version.VersionNumber, version.Label, string(version.ChangeType),
		version.Size, version.Hash, version.StorageLocator, version.Notes, version.IsCurrent}

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, append(args, auditArgs(&version.Audit)...)...); err != nil {
		switch postgres.ViolatedConstraint(err) {
		case r.tables.Index(r.tables.FileVersions, postgres.IdxVersionNumber):
			return fmt.Errorf("version %d of file %s: %w", version.VersionNumber, version.FileID, domain.ErrConflict)
		case r.tables.Index(r.tables.FileVersions, postgres.IdxCurrent):
			return fmt.Errorf("file %s already has a current version: %w", version.FileID, domain.ErrConflict)
		case "":
			return fmt.Errorf("create version: %w", err)
		default:
			return fmt.Errorf("version %s: %w", version.ID, domain.ErrConflict)
		}
	}
	return nil
}

// GetByID retrieves a version by ID
func (r *PostgresVersionRepository) GetByID(ctx context.Context, id string) (*models.FileVersion, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, versionColumns, r.tables.FileVersions)

	executor := postgres.GetExecutor(ctx, r.pool)
	version, err := scanVersion(executor.QueryRow(ctx, query, id))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("version %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// GetCurrent returns the flagged version, nil when the file has none
func (r *PostgresVersionRepository) GetCurrent(ctx context.Context, fileID string) (*models.FileVersion, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE file_id = $1 AND is_current`, versionColumns, r.tables.FileVersions)

	executor := postgres.GetExecutor(ctx, r.pool)
	version, err := scanVersion(executor.QueryRow(ctx, query, fileID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

// ListByFile lists versions newest first
func (r *PostgresVersionRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileVersion, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE file_id = $1
		ORDER BY version_number DESC
	`, versionColumns, r.tables.FileVersions)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []models.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

// ClearCurrent unflags the file's current version, if any
func (r *PostgresVersionRepository) ClearCurrent(ctx context.Context, fileID, actor string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET is_current = FALSE, updated_by = $1, updated_at = $2, version = version + 1
		WHERE file_id = $3 AND is_current
	`, r.tables.FileVersions)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, actor, at, fileID); err != nil {
		return fmt.Errorf("clear current version: %w", err)
	}
	return nil
}

// NextVersionNumber locks the parent file row for the rest of the
// transaction, so concurrent appends to one file queue up instead of
// colliding on the number
func (r *PostgresVersionRepository) NextVersionNumber(ctx context.Context, fileID string) (int, error) {
	executor := postgres.GetExecutor(ctx, r.pool)

	lock := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, r.tables.Files)
	if _, err := executor.Exec(ctx, lock, fileID); err != nil {
		return 0, fmt.Errorf("lock file: %w", err)
	}

	query := fmt.Sprintf(`SELECT COALESCE(MAX(version_number), 0) + 1 FROM %s WHERE file_id = $1`, r.tables.FileVersions)
	var next int
	if err := executor.QueryRow(ctx, query, fileID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return next, nil
}
