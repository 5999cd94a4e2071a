package vault

import (
	"context"
	"fmt"
	"strings"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	"filevault/internal/domain/repositories"
)

// scanner is satisfied by pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

const auditColumns = `created_at, created_by, updated_at, updated_by, deleted, deleted_by, deleted_at, delete_reason, version`

func auditDest(a *models.Audit) []any {
	return []any{&a.CreatedAt, &a.CreatedBy, &a.UpdatedAt, &a.UpdatedBy, &a.Deleted, &a.DeletedBy, &a.DeletedAt, &a.DeleteReason, &a.Version}
}

func auditArgs(a *models.Audit) []any {
	return []any{a.CreatedAt, a.CreatedBy, a.UpdatedAt, a.UpdatedBy, a.Deleted, a.DeletedBy, a.DeletedAt, a.DeleteReason, a.Version}
}

// placeholders returns "$from, $from+1, ..." for n parameters
func placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(p, ", ")
}

// qualify prefixes every column of a comma-separated list with alias
func qualify(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// exists reports whether table holds a row with the given id
func exists(ctx context.Context, executor repositories.DBTX, table, id string) (bool, error) {
	var found bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := executor.QueryRow(ctx, query, id).Scan(&found); err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return found, nil
}

// missingOrStale resolves an UPDATE that matched no row: either the row is
// gone or its version moved on
func missingOrStale(ctx context.Context, executor repositories.DBTX, table, resource, id string, expected int64) error {
	found, err := exists(ctx, executor, table, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s: %w", resource, id, domain.ErrNotFound)
	}
	return &domain.ConcurrencyError{
		Message:      fmt.Sprintf("%s %s was modified concurrently (version %d is stale)", resource, id, expected),
		ResourceType: resource,
		ResourceID:   id,
		Expected:     expected,
	}
}

// notFoundUnless maps a zero-row conditional UPDATE onto false, or onto
// ErrNotFound when the row does not exist at all
func notFoundUnless(ctx context.Context, executor repositories.DBTX, table, resource, id string) error {
	found, err := exists(ctx, executor, table, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s: %w", resource, id, domain.ErrNotFound)
	}
	return nil
}
