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

const folderColumns = `id, project_id, parent_id, name, description, path, depth, sort_order, active, public, read_only, tags, metadata, ` + auditColumns

// siblingOrder matches the in-memory store's listing order
const siblingOrder = `sort_order, lower(name), id`

// PostgresFolderRepository implements the FolderRepository interface
type PostgresFolderRepository struct {
	pool   postgres.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

var _ vaultRepo.FolderRepository = (*PostgresFolderRepository)(nil)

// NewFolderRepository creates a new folder repository
func NewFolderRepository(config *postgres.RepositoryConfig) vaultRepo.FolderRepository {
	return &PostgresFolderRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func scanFolder(row scanner) (*models.Folder, error) {
	var f models.Folder
	dest := []any{&f.ID, &f.ProjectID, &f.ParentID, &f.Name, &f.Description, &f.Path, &f.Depth, &f.SortOrder,
		&f.Active, &f.Public, &f.ReadOnly, &f.Tags, &f.Metadata}
	if err := row.Scan(append(dest, auditDest(&f.Audit)...)...); err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a new folder
func (r *PostgresFolderRepository) Create(ctx context.Context, folder *models.Folder) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.tables.Folders, folderColumns, placeholders(1, 22))

	args := []any{folder.ID, folder.ProjectID, folder.ParentID, folder.Name, folder.Description, folder.Path,
		folder.Depth, folder.SortOrder, folder.Active, folder.Public, folder.ReadOnly, tagsOrEmpty(folder.Tags), folder.Metadata}

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, append(args, auditArgs(&folder.Audit)...)...); err != nil {
		return r.mapWriteError(ctx, folder, err)
	}
	return nil
}

// GetByID retrieves a folder by ID
func (r *PostgresFolderRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, folderColumns, r.tables.Folders)

	executor := postgres.GetExecutor(ctx, r.pool)
	folder, err := scanFolder(executor.QueryRow(ctx, query, id))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("folder %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return folder, nil
}

// Update writes mutable fields guarded by the optimistic version
func (r *PostgresFolderRepository) Update(ctx context.Context, folder *models.Folder) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET parent_id = $1, name = $2, description = $3, path = $4, depth = $5, sort_order = $6,
		    active = $7, public = $8, read_only = $9, tags = $10, metadata = $11,
		    updated_at = $12, updated_by = $13, deleted = $14, deleted_by = $15, deleted_at = $16,
		    delete_reason = $17, version = version + 1
		WHERE id = $18 AND version = $19
		RETURNING version
	`, r.tables.Folders)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		folder.ParentID, folder.Name, folder.Description, folder.Path, folder.Depth, folder.SortOrder,
		folder.Active, folder.Public, folder.ReadOnly, tagsOrEmpty(folder.Tags), folder.Metadata,
		folder.UpdatedAt, folder.UpdatedBy, folder.Deleted, folder.DeletedBy, folder.DeletedAt,
		folder.DeleteReason, folder.ID, folder.Version,
	).Scan(&folder.Version)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return missingOrStale(ctx, executor, r.tables.Folders, "folder", folder.ID, folder.Version)
		}
		return r.mapWriteError(ctx, folder, err)
	}
	return nil
}

// UpdatePlacement rewrites a descendant's derived path and depth
func (r *PostgresFolderRepository) UpdatePlacement(ctx context.Context, folder *models.Folder, actor string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET path = $1, depth = $2, updated_by = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
		RETURNING version
	`, r.tables.Folders)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, folder.Path, folder.Depth, actor, at, folder.ID, folder.Version).
		Scan(&folder.Version)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return missingOrStale(ctx, executor, r.tables.Folders, "folder", folder.ID, folder.Version)
		}
		return fmt.Errorf("update folder placement: %w", err)
	}
	folder.Touch(actor, at)
	return nil
}

// LockProject takes a transaction-scoped advisory lock keyed by project, so
// concurrent moves cannot each pass the cycle check against a tree the other
// is about to change
func (r *PostgresFolderRepository) LockProject(ctx context.Context, projectID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, r.tables.Folders+":"+projectID); err != nil {
		return fmt.Errorf("lock project folders: %w", err)
	}
	return nil
}

// ListChildren lists immediate child folders
func (r *PostgresFolderRepository) ListChildren(ctx context.Context, projectID string, parentID *string) ([]models.Folder, error) {
	var query string
	var args []any

	if parentID == nil {
		query = fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE project_id = $1 AND parent_id IS NULL
			ORDER BY %s
		`, folderColumns, r.tables.Folders, siblingOrder)
		args = []any{projectID}
	} else {
		query = fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE project_id = $1 AND parent_id = $2
			ORDER BY %s
		`, folderColumns, r.tables.Folders, siblingOrder)
		args = []any{projectID, *parentID}
	}

	return r.query(ctx, "list folder children", query, args...)
}

// ListSubtree walks the descendants of id with a recursive CTE. Rows come
// back level by level, so parents precede their children.
func (r *PostgresFolderRepository) ListSubtree(ctx context.Context, id string) ([]models.Folder, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	if err := notFoundUnless(ctx, executor, r.tables.Folders, "folder", id); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH RECURSIVE subtree AS (
			SELECT %[1]s, 1 AS lvl
			FROM %[2]s
			WHERE parent_id = $1
			UNION ALL
			SELECT %[3]s, s.lvl + 1
			FROM %[2]s f
			JOIN subtree s ON f.parent_id = s.id
		)
		SELECT %[1]s FROM subtree
		ORDER BY lvl, %[4]s
	`, folderColumns, r.tables.Folders, qualify("f", folderColumns), siblingOrder)

	return r.query(ctx, "list folder subtree", query, id)
}

// ListByProject returns every folder of a project, shallowest first
func (r *PostgresFolderRepository) ListByProject(ctx context.Context, projectID string) ([]models.Folder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE project_id = $1
		ORDER BY depth, %s
	`, folderColumns, r.tables.Folders, siblingOrder)

	return r.query(ctx, "list project folders", query, projectID)
}

// FindSibling returns the visible sibling matching name case-insensitively
func (r *PostgresFolderRepository) FindSibling(ctx context.Context, projectID string, parentID *string, name string) (*models.Folder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE project_id = $1
		  AND parent_id IS NOT DISTINCT FROM $2
		  AND active AND NOT deleted
		  AND lower(btrim(name)) = lower(btrim($3))
		LIMIT 1
	`, folderColumns, r.tables.Folders)

	executor := postgres.GetExecutor(ctx, r.pool)
	folder, err := scanFolder(executor.QueryRow(ctx, query, projectID, parentID, name))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find sibling folder: %w", err)
	}
	return folder, nil
}

func (r *PostgresFolderRepository) query(ctx context.Context, op, query string, args ...any) ([]models.Folder, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var folders []models.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return folders, nil
}

// mapWriteError turns index violations into domain conflicts
func (r *PostgresFolderRepository) mapWriteError(ctx context.Context, folder *models.Folder, err error) error {
	switch postgres.ViolatedConstraint(err) {
	case r.tables.Index(r.tables.Folders, postgres.IdxSiblingName):
		conflict := &domain.ConflictError{
			Message:      fmt.Sprintf("a folder named %q already exists in this location", folder.Name),
			Reason:       domain.ConflictDuplicateName,
			ResourceType: "folder",
		}
		// Best effort: point at the clashing sibling
		if existing, findErr := r.FindSibling(ctx, folder.ProjectID, folder.ParentID, folder.Name); findErr == nil && existing != nil {
			conflict.ResourceID = existing.ID
		}
		return conflict
	case "":
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("folder %s references a missing parent: %w", folder.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("write folder: %w", err)
	default:
		return fmt.Errorf("folder %s: %w", folder.ID, domain.ErrConflict)
	}
}
