package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"filevault/internal/domain/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it too.
type Pool interface {
	repositories.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Folders         string
	Files           string
	FileVersions    string
	FilePermissions string
	FileShares      string
	ShareAccess     string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Folders:         fmt.Sprintf("%sfolders", prefix),
		Files:           fmt.Sprintf("%sfiles", prefix),
		FileVersions:    fmt.Sprintf("%sfile_versions", prefix),
		FilePermissions: fmt.Sprintf("%sfile_permissions", prefix),
		FileShares:      fmt.Sprintf("%sfile_shares", prefix),
		ShareAccess:     fmt.Sprintf("%sfile_share_access", prefix),
	}
}

// Index names a table's index. Unique violations report it as the
// constraint name, so repositories match on it to pick a conflict reason.
func (t *TableNames) Index(table, suffix string) string {
	return table + "_" + suffix
}

// Index suffixes created by Migrate
const (
	IdxSiblingName   = "sibling_name_key"
	IdxFileName      = "folder_name_key"
	IdxVersionNumber = "number_key"
	IdxCurrent       = "current_key"
	IdxActiveGrant   = "active_subject_key"
	IdxShareToken    = "token_key"
)

// CreateConnectionPool creates a pgx pool with query tracing.
//
// PgBouncer in transaction pooling mode (port 6543 on Supabase) rejects
// prepared statements, so on that port the pool switches to
// QueryExecModeCacheDescribe unless the connection string already picked a
// mode via default_query_exec_mode. Table prefixes are interpolated before
// the SQL reaches the server, so each environment caches its own statements.
func CreateConnectionPool(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.ConnConfig.Tracer = NewQueryTracer()

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		logger.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction stored in ctx, or pool when there is
// none, so repositories join a running transaction automatically.
func GetExecutor(ctx context.Context, pool repositories.DBTX) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
