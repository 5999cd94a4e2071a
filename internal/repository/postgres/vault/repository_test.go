package vault

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"

	"filevault/internal/repository/postgres"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *postgres.RepositoryConfig) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock, &postgres.RepositoryConfig{
		Pool:   mock,
		Tables: postgres.NewTableNames("dev_"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func columnNames(list string) []string {
	cols := strings.Split(list, ",")
	for i, c := range cols {
		cols[i] = strings.TrimSpace(c)
	}
	return cols
}

func auditValues(a models.Audit) []any {
	return []any{a.CreatedAt, a.CreatedBy, a.UpdatedAt, a.UpdatedBy, a.Deleted, a.DeletedBy, a.DeletedAt, a.DeleteReason, a.Version}
}

func folderValues(f *models.Folder) []any {
	return append([]any{f.ID, f.ProjectID, f.ParentID, f.Name, f.Description, f.Path, f.Depth, f.SortOrder,
		f.Active, f.Public, f.ReadOnly, f.Tags, f.Metadata}, auditValues(f.Audit)...)
}

func permissionValues(p *models.FilePermission) []any {
	return append([]any{p.ID, p.FileID, string(p.Subject.Kind), p.Subject.ID, int32(p.Capabilities), p.Active,
		p.GrantedBy, p.GrantedAt, p.RevokedBy, p.RevokedAt, p.RevokeReason, p.ExpiresAt, p.Notes},
		auditValues(p.Audit)...)
}

// folderUpdateArgs pins the row identity of a folder Update and leaves the
// seventeen SET values open
func folderUpdateArgs(id string, version int64) []any {
	return append(anyArgs(17), id, version)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// anyArgs matches n positional arguments whose values the test does not pin
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func existsRows(found bool) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"exists"}).AddRow(found)
}

func testFolder(id string, parent *models.Folder, name string) *models.Folder {
	f := &models.Folder{ID: id, ProjectID: "p1", Name: name, Active: true, Tags: []string{}, Audit: models.NewAudit("7", testNow)}
	f.Place(parent)
	return f
}

// ============================================================================
// FOLDERS
// ============================================================================

func TestFolderCreateDuplicateName(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFolderRepository(cfg)
	ctx := context.Background()

	root := testFolder("root", nil, "Root")
	existing := testFolder("docs-1", root, "Docs")
	clash := testFolder("docs-2", root, "DOCS")

	mock.ExpectExec("INSERT INTO dev_folders").WithArgs(anyArgs(22)...).
		WillReturnError(uniqueViolation("dev_folders_sibling_name_key"))
	mock.ExpectQuery("FROM dev_folders").
		WithArgs("p1", clash.ParentID, "DOCS").
		WillReturnRows(pgxmock.NewRows(columnNames(folderColumns)).AddRow(folderValues(existing)...))

	err := repo.Create(ctx, clash)
	require.True(t, domain.HasConflictReason(err, domain.ConflictDuplicateName))

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "docs-1", conflict.ResourceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFolderUpdate(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		check     func(t *testing.T, folder *models.Folder, err error)
	}{
		{
			name: "bumps the version",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE dev_folders").WithArgs(folderUpdateArgs("a", 1)...).
					WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(2)))
			},
			check: func(t *testing.T, folder *models.Folder, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 2, folder.Version)
			},
		},
		{
			name: "stale version",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE dev_folders").WithArgs(folderUpdateArgs("a", 1)...).
					WillReturnRows(pgxmock.NewRows([]string{"version"}))
				mock.ExpectQuery("SELECT EXISTS").WithArgs("a").WillReturnRows(existsRows(true))
			},
			check: func(t *testing.T, folder *models.Folder, err error) {
				assert.ErrorIs(t, err, domain.ErrConcurrency)
				assert.EqualValues(t, 1, folder.Version)
			},
		},
		{
			name: "missing row",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE dev_folders").WithArgs(folderUpdateArgs("a", 1)...).
					WillReturnRows(pgxmock.NewRows([]string{"version"}))
				mock.ExpectQuery("SELECT EXISTS").WithArgs("a").WillReturnRows(existsRows(false))
			},
			check: func(t *testing.T, folder *models.Folder, err error) {
				assert.ErrorIs(t, err, domain.ErrNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, cfg := newMock(t)
			repo := NewFolderRepository(cfg)
			tt.setupMock(mock)

			folder := testFolder("a", nil, "A")
			err := repo.Update(context.Background(), folder)
			tt.check(t, folder, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFolderListSubtree(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFolderRepository(cfg)
	ctx := context.Background()

	root := testFolder("root", nil, "Root")
	a := testFolder("a", root, "A")
	b := testFolder("b", a, "B")

	mock.ExpectQuery("SELECT EXISTS").WithArgs("missing").WillReturnRows(existsRows(false))
	_, err := repo.ListSubtree(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("root").WillReturnRows(existsRows(true))
	mock.ExpectQuery("WITH RECURSIVE subtree").WithArgs("root").
		WillReturnRows(pgxmock.NewRows(columnNames(folderColumns)).
			AddRow(folderValues(a)...).
			AddRow(folderValues(b)...))

	sub, err := repo.ListSubtree(ctx, "root")
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.Equal(t, "Root/A/B", sub[1].Path)
	assert.Equal(t, 2, sub[1].Depth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFolderLockProject(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFolderRepository(cfg)

	mock.ExpectExec("SELECT pg_advisory_xact_lock\\(hashtext\\(\\$1\\)\\)").WithArgs("dev_folders:p1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, repo.LockProject(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFolderUpdatePlacement(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFolderRepository(cfg)
	ctx := context.Background()

	root := testFolder("root", nil, "Top")
	a := testFolder("a", root, "A")

	mock.ExpectQuery("WHERE id = \\$5 AND version = \\$6").
		WithArgs("Top/A", 1, "9", testNow, "a", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(2)))
	require.NoError(t, repo.UpdatePlacement(ctx, a, "9", testNow))
	assert.EqualValues(t, 2, a.Version)
	assert.Equal(t, "9", a.UpdatedBy)

	stale := testFolder("a", root, "A")
	mock.ExpectQuery("WHERE id = \\$5 AND version = \\$6").
		WithArgs("Top/A", 1, "9", testNow, "a", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"version"}))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("a").WillReturnRows(existsRows(true))
	err := repo.UpdatePlacement(ctx, stale, "9", testNow)
	assert.ErrorIs(t, err, domain.ErrConcurrency)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// FILES
// ============================================================================

func TestFileAcquireCheckout(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFileRepository(cfg)
	ctx := context.Background()
	due := testNow.Add(time.Hour)

	mock.ExpectExec("UPDATE dev_files").WithArgs("7", testNow, due, "f1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.AcquireCheckout(ctx, "f1", "7", testNow, due)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE dev_files").WithArgs("9", testNow, due, "f1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("f1").WillReturnRows(existsRows(true))
	ok, err = repo.AcquireCheckout(ctx, "f1", "9", testNow, due)
	require.NoError(t, err)
	assert.False(t, ok, "held by someone else")

	mock.ExpectExec("UPDATE dev_files").WithArgs("9", testNow, due, "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("nope").WillReturnRows(existsRows(false))
	_, err = repo.AcquireCheckout(ctx, "nope", "9", testNow, due)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileIncrementCounters(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFileRepository(cfg)
	ctx := context.Background()
	by := "9"

	mock.ExpectExec("UPDATE dev_files").WithArgs(int64(1), int64(1), int64(0), &by, testNow, "f1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.IncrementCounters(ctx, "f1", models.CounterDelta{Downloads: 1, Views: 1, AccessedBy: &by}, testNow))

	mock.ExpectExec("UPDATE dev_files").WithArgs(int64(0), int64(0), int64(1), pgxmock.AnyArg(), testNow, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := repo.IncrementCounters(ctx, "gone", models.CounterDelta{Shares: 1}, testNow)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileCreateDuplicateName(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewFileRepository(cfg)

	mock.ExpectExec("INSERT INTO dev_files").WithArgs(anyArgs(30)...).
		WillReturnError(uniqueViolation("dev_files_folder_name_key"))
	mock.ExpectQuery("FROM dev_files").WithArgs("root", "spec.txt").WillReturnRows(pgxmock.NewRows(columnNames(fileColumns)))

	err := repo.Create(context.Background(), &models.File{ID: "f2", FolderID: "root", Name: "spec.txt"})
	assert.True(t, domain.HasConflictReason(err, domain.ConflictDuplicateName))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// VERSIONS
// ============================================================================

func TestVersionCreateConflicts(t *testing.T) {
	for _, idx := range []string{"dev_file_versions_number_key", "dev_file_versions_current_key"} {
		t.Run(idx, func(t *testing.T) {
			mock, cfg := newMock(t)
			repo := NewVersionRepository(cfg)

			mock.ExpectExec("INSERT INTO dev_file_versions").WithArgs(anyArgs(19)...).WillReturnError(uniqueViolation(idx))
			err := repo.Create(context.Background(), &models.FileVersion{ID: "v2", FileID: "f1", VersionNumber: 2, IsCurrent: true})
			assert.ErrorIs(t, err, domain.ErrConflict)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNextVersionNumberLocksFile(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewVersionRepository(cfg)

	mock.ExpectExec("FOR UPDATE").WithArgs("f1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("COALESCE").WithArgs("f1").WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(3))

	next, err := repo.NextVersionNumber(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurrentVersionNone(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewVersionRepository(cfg)

	mock.ExpectQuery("FROM dev_file_versions").WithArgs("f1").
		WillReturnRows(pgxmock.NewRows(columnNames(versionColumns)))

	current, err := repo.GetCurrent(context.Background(), "f1")
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// PERMISSIONS
// ============================================================================

func TestPermissionCreateAlreadyGranted(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewPermissionRepository(cfg)

	active := &models.FilePermission{
		ID: "p1", FileID: "f1", Subject: models.UserSubject("9"), Capabilities: models.CapRead,
		Active: true, GrantedBy: "7", GrantedAt: testNow, Audit: models.NewAudit("7", testNow),
	}
	second := &models.FilePermission{
		ID: "p2", FileID: "f1", Subject: models.UserSubject("9"), Capabilities: models.CapWrite,
		Active: true, GrantedBy: "7", GrantedAt: testNow, Audit: models.NewAudit("7", testNow),
	}

	mock.ExpectExec("INSERT INTO dev_file_permissions").WithArgs(anyArgs(22)...).
		WillReturnError(uniqueViolation("dev_file_permissions_active_subject_key"))
	mock.ExpectQuery("FROM dev_file_permissions").WithArgs("f1", "user", "9").
		WillReturnRows(pgxmock.NewRows(columnNames(permissionColumns)).AddRow(permissionValues(active)...))

	err := repo.Create(context.Background(), second)
	require.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyGranted))

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "p1", conflict.ResourceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionScanRestoresSubjectAndCapabilities(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewPermissionRepository(cfg)

	role := &models.FilePermission{
		ID: "p1", FileID: "f1", Subject: models.RoleSubject("editors"),
		Capabilities: models.CapRead | models.CapWrite | models.CapCheckout,
		Active:       true, GrantedBy: "7", GrantedAt: testNow, Audit: models.NewAudit("7", testNow),
	}
	mock.ExpectQuery("FROM dev_file_permissions").WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(columnNames(permissionColumns)).AddRow(permissionValues(role)...))

	got, err := repo.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSubject("editors"), got.Subject)
	assert.Equal(t, models.LevelEditor, got.EffectiveLevel(testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// SHARES
// ============================================================================

func TestShareConsumeUsage(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewShareRepository(cfg)
	ctx := context.Background()
	stamp := vaultRepo.UsageStamp{At: testNow}

	mock.ExpectExec("SET current_downloads = current_downloads \\+ 1").
		WithArgs(testNow, pgxmock.AnyArg(), pgxmock.AnyArg(), "s1", "tok").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.ConsumeUsage(ctx, "s1", "tok", models.AccessDownload, stamp)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("SET current_views = current_views \\+ 1").
		WithArgs(testNow, pgxmock.AnyArg(), pgxmock.AnyArg(), "s1", "tok").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT token = \\$2 AND active AND NOT deleted").WithArgs("s1", "tok").
		WillReturnRows(pgxmock.NewRows([]string{"usable"}).AddRow(true))
	ok, err = repo.ConsumeUsage(ctx, "s1", "tok", models.AccessView, stamp)
	require.NoError(t, err)
	assert.False(t, ok, "cap reached")

	_, err = repo.ConsumeUsage(ctx, "s1", "tok", models.AccessPreview, stamp)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShareConsumeUsageRejectsStaleShare(t *testing.T) {
	cases := []struct {
		name string
		rows *pgxmock.Rows
	}{
		{"deactivated or re-tokened", pgxmock.NewRows([]string{"usable"}).AddRow(false)},
		{"gone", pgxmock.NewRows([]string{"usable"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock, cfg := newMock(t)
			repo := NewShareRepository(cfg)

			mock.ExpectExec("WHERE id = \\$4 AND token = \\$5 AND active AND NOT deleted").
				WithArgs(testNow, pgxmock.AnyArg(), pgxmock.AnyArg(), "s1", "old-token").
				WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			mock.ExpectQuery("SELECT token = \\$2").WithArgs("s1", "old-token").WillReturnRows(tc.rows)

			ok, err := repo.ConsumeUsage(context.Background(), "s1", "old-token", models.AccessDownload,
				vaultRepo.UsageStamp{At: testNow})
			assert.False(t, ok)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestShareGetByTokenNotFound(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewShareRepository(cfg)

	mock.ExpectQuery("FROM dev_file_shares").WithArgs("secret-token").
		WillReturnRows(pgxmock.NewRows(columnNames(shareColumns)))

	_, err := repo.GetByToken(context.Background(), "secret-token")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotContains(t, err.Error(), "secret-token")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShareCreateDuplicateToken(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewShareRepository(cfg)

	mock.ExpectExec("INSERT INTO dev_file_shares").WithArgs(anyArgs(26)...).WillReturnError(uniqueViolation("dev_file_shares_token_key"))

	err := repo.Create(context.Background(), &models.FileShare{ID: "s2", FileID: "f1", Token: "dup"})
	assert.True(t, domain.HasConflictReason(err, domain.ConflictDuplicateToken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessLogAppendMissingShare(t *testing.T) {
	mock, cfg := newMock(t)
	repo := NewAccessLogRepository(cfg)

	mock.ExpectExec("INSERT INTO dev_file_share_access").WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := repo.Append(context.Background(), &models.ShareAccess{ID: "a1", ShareID: "gone", AccessType: models.AccessView})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
