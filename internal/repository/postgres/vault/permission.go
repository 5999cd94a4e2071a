package vault

import (
	"context"
	"fmt"
	"log/slog"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"

	"filevault/internal/repository/postgres"
)

const permissionColumns = `id, file_id, subject_kind, subject_id, capabilities, active, granted_by, granted_at, ` +
	`revoked_by, revoked_at, revoke_reason, expires_at, notes, ` + auditColumns

// PostgresPermissionRepository implements the PermissionRepository interface
type PostgresPermissionRepository struct {
	pool   postgres.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

var _ vaultRepo.PermissionRepository = (*PostgresPermissionRepository)(nil)

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(config *postgres.RepositoryConfig) vaultRepo.PermissionRepository {
	return &PostgresPermissionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanPermission(row scanner) (*models.FilePermission, error) {
	var (
		p    models.FilePermission
		kind string
		caps int32
	)
	dest := []any{&p.ID, &p.FileID, &kind, &p.Subject.ID, &caps, &p.Active, &p.GrantedBy, &p.GrantedAt,
		&p.RevokedBy, &p.RevokedAt, &p.RevokeReason, &p.ExpiresAt, &p.Notes}
	if err := row.Scan(append(dest, auditDest(&p.Audit)...)...); err != nil {
		return nil, err
	}
	p.Subject.Kind = models.SubjectKind(kind)
	p.Capabilities = models.Capability(caps)
	return &p, nil
}

// Create inserts a grant. The partial unique index allows one active row
// per (file, subject).
func (r *PostgresPermissionRepository) Create(ctx context.Context, perm *models.FilePermission) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.tables.FilePermissions, permissionColumns, placeholders(1, 22))

	args := []any{perm.ID, perm.FileID, string(perm.Subject.Kind), perm.Subject.ID, int32(perm.Capabilities),
		perm.Active, perm.GrantedBy, perm.GrantedAt, perm.RevokedBy, perm.RevokedAt, perm.RevokeReason,
		perm.ExpiresAt, perm.Notes}

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, append(args, auditArgs(&perm.Audit)...)...); err != nil {
		return r.mapWriteError(ctx, perm, err)
	}
	return nil
}

// GetByID retrieves a grant by ID
func (r *PostgresPermissionRepository) GetByID(ctx context.Context, id string) (*models.FilePermission, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, permissionColumns, r.tables.FilePermissions)

	executor := postgres.GetExecutor(ctx, r.pool)
	perm, err := scanPermission(executor.QueryRow(ctx, query, id))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("permission %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get permission: %w", err)
	}
	return perm, nil
}

// Update writes mutable fields guarded by the optimistic version
func (r *PostgresPermissionRepository) Update(ctx context.Context, perm *models.FilePermission) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET capabilities = $1, active = $2, revoked_by = $3, revoked_at = $4, revoke_reason = $5,
		    expires_at = $6, notes = $7, updated_at = $8, updated_by = $9, deleted = $10,
		    deleted_by = $11, deleted_at = $12, delete_reason = $13, version = version + 1
		WHERE id = $14 AND version = $15
		RETURNING version
	`, r.tables.FilePermissions)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		int32(perm.Capabilities), perm.Active, perm.RevokedBy, perm.RevokedAt, perm.RevokeReason,
		perm.ExpiresAt, perm.Notes, perm.UpdatedAt, perm.UpdatedBy, perm.Deleted,
		perm.DeletedBy, perm.DeletedAt, perm.DeleteReason, perm.ID, perm.Version,
	).Scan(&perm.Version)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return missingOrStale(ctx, executor, r.tables.FilePermissions, "permission", perm.ID, perm.Version)
		}
		return r.mapWriteError(ctx, perm, err)
	}
	return nil
}

// ListBySubject lists every row for (file, subject)
func (r *PostgresPermissionRepository) ListBySubject(ctx context.Context, fileID string, subject models.Subject) ([]models.FilePermission, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE file_id = $1 AND subject_kind = $2 AND subject_id = $3
		ORDER BY granted_at, id
	`, permissionColumns, r.tables.FilePermissions)

	return r.query(ctx, "list subject permissions", query, fileID, string(subject.Kind), subject.ID)
}

// ListByFile lists every row for a file
func (r *PostgresPermissionRepository) ListByFile(ctx context.Context, fileID string) ([]models.FilePermission, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE file_id = $1
		ORDER BY granted_at, id
	`, permissionColumns, r.tables.FilePermissions)

	return r.query(ctx, "list file permissions", query, fileID)
}

func (r *PostgresPermissionRepository) query(ctx context.Context, op, query string, args ...any) ([]models.FilePermission, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var perms []models.FilePermission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return perms, nil
}

func (r *PostgresPermissionRepository) mapWriteError(ctx context.Context, perm *models.FilePermission, err error) error {
	switch postgres.ViolatedConstraint(err) {
	case r.tables.Index(r.tables.FilePermissions, postgres.IdxActiveGrant):
		conflict := &domain.ConflictError{
			Message:      fmt.Sprintf("%s already has an active grant on file %s", perm.Subject.Key(), perm.FileID),
			Reason:       domain.ConflictAlreadyGranted,
			ResourceType: "permission",
		}
		if rows, listErr := r.ListBySubject(ctx, perm.FileID, perm.Subject); listErr == nil {
			for _, row := range rows {
				if row.ID != perm.ID && row.Active && !row.Deleted {
					conflict.ResourceID = row.ID
					break
				}
			}
		}
		return conflict
	case "":
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("permission %s references a missing file: %w", perm.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("write permission: %w", err)
	default:
		return fmt.Errorf("permission %s: %w", perm.ID, domain.ErrConflict)
	}
}
