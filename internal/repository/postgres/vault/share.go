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

const shareColumns = `id, file_id, token, share_type, recipient, password_hash, capabilities, max_downloads, max_views, ` +
	`current_downloads, current_views, expires_at, active, message, last_accessed_at, last_accessed_by, ` +
	`last_accessed_ip, ` + auditColumns

// PostgresShareRepository implements the ShareRepository interface
type PostgresShareRepository struct {
	pool   postgres.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

var _ vaultRepo.ShareRepository = (*PostgresShareRepository)(nil)

// NewShareRepository creates a new share repository
func NewShareRepository(config *postgres.RepositoryConfig) vaultRepo.ShareRepository {
	return &PostgresShareRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanShare(row scanner) (*models.FileShare, error) {
	var (
		s    models.FileShare
		caps int32
	)
	dest := []any{&s.ID, &s.FileID, &s.Token, &s.ShareType, &s.Recipient, &s.PasswordHash, &caps,
		&s.MaxDownloads, &s.MaxViews, &s.CurrentDownloads, &s.CurrentViews, &s.ExpiresAt, &s.Active,
		&s.Message, &s.LastAccessedAt, &s.LastAccessedBy, &s.LastAccessedIP}
	if err := row.Scan(append(dest, auditDest(&s.Audit)...)...); err != nil {
		return nil, err
	}
	s.Capabilities = models.Capability(caps)
	return &s, nil
}

// Create inserts a share
func (r *PostgresShareRepository) Create(ctx context.Context, share *models.FileShare) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.tables.FileShares, shareColumns, placeholders(1, 26))

	args := []any{share.ID, share.FileID, share.Token, string(share.ShareType), share.Recipient, share.PasswordHash,
		int32(share.Capabilities), share.MaxDownloads, share.MaxViews, share.CurrentDownloads, share.CurrentViews,
		share.ExpiresAt, share.Active, share.Message, share.LastAccessedAt, share.LastAccessedBy, share.LastAccessedIP}

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, append(args, auditArgs(&share.Audit)...)...); err != nil {
		return r.mapWriteError(share, err)
	}
	return nil
}

// GetByID retrieves a share by ID
func (r *PostgresShareRepository) GetByID(ctx context.Context, id string) (*models.FileShare, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, shareColumns, r.tables.FileShares)

	executor := postgres.GetExecutor(ctx, r.pool)
	share, err := scanShare(executor.QueryRow(ctx, query, id))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("share %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get share: %w", err)
	}
	return share, nil
}

// GetByToken retrieves a share by its token. The token never appears in
// the returned error.
func (r *PostgresShareRepository) GetByToken(ctx context.Context, token string) (*models.FileShare, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE token = $1`, shareColumns, r.tables.FileShares)

	executor := postgres.GetExecutor(ctx, r.pool)
	share, err := scanShare(executor.QueryRow(ctx, query, token))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("share: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get share by token: %w", err)
	}
	return share, nil
}

// Update writes mutable fields, the token included. Usage counters are
// owned by ConsumeUsage and left untouched.
func (r *PostgresShareRepository) Update(ctx context.Context, share *models.FileShare) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET token = $1, recipient = $2, password_hash = $3, capabilities = $4, max_downloads = $5,
		    max_views = $6, expires_at = $7, active = $8, message = $9, updated_at = $10,
		    updated_by = $11, deleted = $12, deleted_by = $13, deleted_at = $14, delete_reason = $15,
		    version = version + 1
		WHERE id = $16 AND version = $17
		RETURNING version
	`, r.tables.FileShares)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		share.Token, share.Recipient, share.PasswordHash, int32(share.Capabilities), share.MaxDownloads,
		share.MaxViews, share.ExpiresAt, share.Active, share.Message, share.UpdatedAt,
		share.UpdatedBy, share.Deleted, share.DeletedBy, share.DeletedAt, share.DeleteReason,
		share.ID, share.Version,
	).Scan(&share.Version)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return missingOrStale(ctx, executor, r.tables.FileShares, "share", share.ID, share.Version)
		}
		return r.mapWriteError(share, err)
	}
	return nil
}

// ConsumeUsage bumps the download or view counter in one guarded UPDATE,
// so concurrent callers can never push it past its cap
func (r *PostgresShareRepository) ConsumeUsage(ctx context.Context, id, token string, accessType models.AccessType, stamp vaultRepo.UsageStamp) (bool, error) {
	var counter, limit string
	switch accessType {
	case models.AccessDownload:
		counter, limit = "current_downloads", "max_downloads"
	case models.AccessView:
		counter, limit = "current_views", "max_views"
	default:
		return false, fmt.Errorf("access type %q does not consume quota: %w", accessType, domain.ErrValidation)
	}

	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET %[2]s = %[2]s + 1,
		    last_accessed_at = $1,
		    last_accessed_by = COALESCE($2, last_accessed_by),
		    last_accessed_ip = COALESCE($3, last_accessed_ip),
		    version = version + 1
		WHERE id = $4 AND token = $5 AND active AND NOT deleted
		  AND (%[3]s IS NULL OR %[2]s < %[3]s)
	`, r.tables.FileShares, counter, limit)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, stamp.At, stamp.By, nullIfEmpty(stamp.IP), id, token)
	if err != nil {
		return false, fmt.Errorf("consume share usage: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	// No row matched: either the cap is met or the share went away
	var usable bool
	check := fmt.Sprintf(`SELECT token = $2 AND active AND NOT deleted FROM %s WHERE id = $1`, r.tables.FileShares)
	if err := executor.QueryRow(ctx, check, id, token).Scan(&usable); err != nil {
		if postgres.IsPgNoRowsError(err) {
			return false, fmt.Errorf("share %s: %w", id, domain.ErrNotFound)
		}
		return false, fmt.Errorf("check share: %w", err)
	}
	if !usable {
		return false, fmt.Errorf("share %s is no longer valid: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

// ListByFile lists every share of a file, oldest first
func (r *PostgresShareRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileShare, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE file_id = $1
		ORDER BY created_at, id
	`, shareColumns, r.tables.FileShares)

	return r.query(ctx, "list file shares", query, fileID)
}

// ListExpiredActive lists active shares whose expiry has passed
func (r *PostgresShareRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]models.FileShare, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE active AND NOT deleted AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY created_at, id
	`, shareColumns, r.tables.FileShares)

	return r.query(ctx, "list expired shares", query, now)
}

func (r *PostgresShareRepository) query(ctx context.Context, op, query string, args ...any) ([]models.FileShare, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var shares []models.FileShare
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return shares, nil
}

func (r *PostgresShareRepository) mapWriteError(share *models.FileShare, err error) error {
	switch postgres.ViolatedConstraint(err) {
	case r.tables.Index(r.tables.FileShares, postgres.IdxShareToken):
		return &domain.ConflictError{
			Message:      "share token already in use",
			Reason:       domain.ConflictDuplicateToken,
			ResourceType: "share",
		}
	case "":
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("share %s references a missing file: %w", share.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("write share: %w", err)
	default:
		return fmt.Errorf("share %s: %w", share.ID, domain.ErrConflict)
	}
}

const accessColumns = `id, share_id, access_type, accessed_at, accessed_by, ip_address, user_agent, referer, success, failure_reason`

// PostgresAccessLogRepository implements the AccessLogRepository interface
type PostgresAccessLogRepository struct {
	pool   postgres.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

var _ vaultRepo.AccessLogRepository = (*PostgresAccessLogRepository)(nil)

// NewAccessLogRepository creates a new share access log
func NewAccessLogRepository(config *postgres.RepositoryConfig) vaultRepo.AccessLogRepository {
	return &PostgresAccessLogRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Append writes one access row
func (r *PostgresAccessLogRepository) Append(ctx context.Context, access *models.ShareAccess) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.tables.ShareAccess, accessColumns, placeholders(1, 10))

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		access.ID, access.ShareID, string(access.AccessType), access.AccessedAt, access.AccessedBy,
		access.IPAddress, access.UserAgent, access.Referer, access.Success, access.FailureReason,
	)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("share %s: %w", access.ShareID, domain.ErrNotFound)
		}
		return fmt.Errorf("append share access: %w", err)
	}
	return nil
}

// ListByShare lists access rows oldest first
func (r *PostgresAccessLogRepository) ListByShare(ctx context.Context, shareID string) ([]models.ShareAccess, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE share_id = $1
		ORDER BY accessed_at, id
	`, accessColumns, r.tables.ShareAccess)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, shareID)
	if err != nil {
		return nil, fmt.Errorf("list share access: %w", err)
	}
	defer rows.Close()

	accesses := make([]models.ShareAccess, 0)
	for rows.Next() {
		var a models.ShareAccess
		if err := rows.Scan(&a.ID, &a.ShareID, &a.AccessType, &a.AccessedAt, &a.AccessedBy,
			&a.IPAddress, &a.UserAgent, &a.Referer, &a.Success, &a.FailureReason); err != nil {
			return nil, fmt.Errorf("scan share access: %w", err)
		}
		accesses = append(accesses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share access: %w", err)
	}
	return accesses, nil
}
