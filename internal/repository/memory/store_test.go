package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newFolder(id string, parent *models.Folder, name string) *models.Folder {
	f := &models.Folder{
		ID:        id,
		ProjectID: "p1",
		Name:      name,
		Active:    true,
		Audit:     models.NewAudit("7", testNow),
	}
	f.Place(parent)
	return f
}

func newFile(id, folderID, name string) *models.File {
	return &models.File{
		ID:        id,
		ProjectID: "p1",
		FolderID:  folderID,
		Name:      name,
		Audit:     models.NewAudit("7", testNow),
	}
}

func TestExecTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	tx := NewTransactionManager(store)
	ctx := context.Background()

	boom := errors.New("boom")
	err := tx.ExecTx(ctx, func(ctx context.Context) error {
		require.NoError(t, folders.Create(ctx, newFolder("a", nil, "A")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = folders.GetByID(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecTxRollsBackOnPanic(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	tx := NewTransactionManager(store)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = tx.ExecTx(ctx, func(ctx context.Context) error {
			_ = folders.Create(ctx, newFolder("a", nil, "A"))
			panic("boom")
		})
	})

	_, err := folders.GetByID(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The lock was released
	require.NoError(t, folders.Create(ctx, newFolder("b", nil, "B")))
}

func TestExecTxNestedJoinsOuter(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	tx := NewTransactionManager(store)
	ctx := context.Background()

	err := tx.ExecTx(ctx, func(ctx context.Context) error {
		if err := tx.ExecTx(ctx, func(ctx context.Context) error {
			return folders.Create(ctx, newFolder("a", nil, "A"))
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	require.Error(t, err)

	_, err = folders.GetByID(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound, "inner write rolled back with the outer transaction")
}

func TestOptimisticConcurrency(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	ctx := context.Background()
	require.NoError(t, folders.Create(ctx, newFolder("a", nil, "A")))

	first, err := folders.GetByID(ctx, "a")
	require.NoError(t, err)
	second, err := folders.GetByID(ctx, "a")
	require.NoError(t, err)

	first.Description = "first"
	require.NoError(t, folders.Update(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	second.Description = "second"
	err = folders.Update(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConcurrency)

	stored, err := folders.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Description)
}

func TestStoreClonesValues(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	ctx := context.Background()

	f := newFolder("a", nil, "A")
	f.Tags = []string{"x"}
	require.NoError(t, folders.Create(ctx, f))
	f.Tags[0] = "mutated"

	got, err := folders.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Tags)

	got.Tags[0] = "mutated again"
	again, err := folders.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, again.Tags)
}

func TestFolderSiblingUniqueness(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	ctx := context.Background()

	root := newFolder("root", nil, "Root")
	require.NoError(t, folders.Create(ctx, root))
	require.NoError(t, folders.Create(ctx, newFolder("a", root, "Docs")))

	err := folders.Create(ctx, newFolder("b", root, "DOCS"))
	assert.True(t, domain.HasConflictReason(err, domain.ConflictDuplicateName))

	found, err := folders.FindSibling(ctx, "p1", &root.ID, " docs")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a", found.ID)

	none, err := folders.FindSibling(ctx, "p1", nil, "Docs")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListSubtreeParentsFirst(t *testing.T) {
	store := NewStore()
	folders := NewFolderRepository(store)
	ctx := context.Background()

	root := newFolder("root", nil, "Root")
	a := newFolder("a", root, "A")
	b := newFolder("b", a, "B")
	c := newFolder("c", b, "C")
	for _, f := range []*models.Folder{root, a, b, c} {
		require.NoError(t, folders.Create(ctx, f))
	}

	sub, err := folders.ListSubtree(ctx, "root")
	require.NoError(t, err)
	ids := make([]string, len(sub))
	for i, f := range sub {
		ids[i] = f.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	_, err = folders.ListSubtree(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcquireCheckoutIsConditional(t *testing.T) {
	store := NewStore()
	files := NewFileRepository(store)
	ctx := context.Background()
	require.NoError(t, files.Create(ctx, newFile("f", "root", "spec.txt")))

	ok, err := files.AcquireCheckout(ctx, "f", "7", testNow, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = files.AcquireCheckout(ctx, "f", "9", testNow, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = files.ReleaseCheckout(ctx, "f", "9", testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = files.ReleaseCheckout(ctx, "f", "7", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = files.AcquireCheckout(ctx, "missing", "7", testNow, testNow)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileUpdateKeepsCountersAndLock(t *testing.T) {
	store := NewStore()
	files := NewFileRepository(store)
	ctx := context.Background()
	require.NoError(t, files.Create(ctx, newFile("f", "root", "spec.txt")))

	stale, err := files.GetByID(ctx, "f")
	require.NoError(t, err)

	by := "9"
	require.NoError(t, files.IncrementCounters(ctx, "f", models.CounterDelta{Downloads: 1, Views: 1, AccessedBy: &by}, testNow))
	_, err = files.AcquireCheckout(ctx, "f", "7", testNow, testNow.Add(time.Hour))
	require.NoError(t, err)

	stale.MimeType = "application/pdf"
	err = files.Update(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrConcurrency, "counter bumps advance the version")

	fresh, err := files.GetByID(ctx, "f")
	require.NoError(t, err)
	fresh.MimeType = "text/plain"
	fresh.DownloadCount = 0
	fresh.CheckedOutBy = nil
	require.NoError(t, files.Update(ctx, fresh))

	stored, err := files.GetByID(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", stored.MimeType)
	assert.EqualValues(t, 1, stored.DownloadCount)
	require.NotNil(t, stored.CheckedOutBy)
	assert.Equal(t, "7", *stored.CheckedOutBy)
}

func TestSingleCurrentVersion(t *testing.T) {
	store := NewStore()
	versions := NewVersionRepository(store)
	ctx := context.Background()

	v := func(id string, n int) *models.FileVersion {
		return &models.FileVersion{ID: id, FileID: "f", VersionNumber: n, IsCurrent: true, Audit: models.NewAudit("7", testNow)}
	}
	require.NoError(t, versions.Create(ctx, v("v1", 1)))
	assert.ErrorIs(t, versions.Create(ctx, v("v2", 2)), domain.ErrConflict)

	require.NoError(t, versions.ClearCurrent(ctx, "f", "7", testNow))
	require.NoError(t, versions.Create(ctx, v("v2", 2)))
	assert.ErrorIs(t, versions.Create(ctx, &models.FileVersion{ID: "v3", FileID: "f", VersionNumber: 2}), domain.ErrConflict)

	next, err := versions.NextVersionNumber(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	cur, err := versions.GetCurrent(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "v2", cur.ID)
}

func TestSingleActivePermission(t *testing.T) {
	store := NewStore()
	perms := NewPermissionRepository(store)
	ctx := context.Background()

	p := func(id string) *models.FilePermission {
		return &models.FilePermission{
			ID: id, FileID: "f", Subject: models.UserSubject("9"),
			Capabilities: models.CapRead, Active: true, Audit: models.NewAudit("7", testNow),
		}
	}
	require.NoError(t, perms.Create(ctx, p("p1")))
	err := perms.Create(ctx, p("p2"))
	assert.True(t, domain.HasConflictReason(err, domain.ConflictAlreadyGranted))

	other := p("p3")
	other.Subject = models.RoleSubject("editors")
	require.NoError(t, perms.Create(ctx, other))

	rows, err := perms.ListBySubject(ctx, "f", models.UserSubject("9"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestConsumeUsageConcurrent(t *testing.T) {
	store := NewStore()
	shares := NewShareRepository(store)
	ctx := context.Background()

	limit := int64(5)
	require.NoError(t, shares.Create(ctx, &models.FileShare{
		ID: "s", FileID: "f", Token: "tok", Active: true,
		MaxDownloads: &limit, Audit: models.NewAudit("7", testNow),
	}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := shares.ConsumeUsage(ctx, "s", "tok", models.AccessDownload, vaultRepo.UsageStamp{At: testNow})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, consumed)
	got, err := shares.GetByID(ctx, "s")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.CurrentDownloads)

	_, err = shares.ConsumeUsage(ctx, "s", "tok", models.AccessPreview, vaultRepo.UsageStamp{At: testNow})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConsumeUsageRejectsStaleShare(t *testing.T) {
	store := NewStore()
	shares := NewShareRepository(store)
	ctx := context.Background()

	require.NoError(t, shares.Create(ctx, &models.FileShare{
		ID: "s", FileID: "f", Token: "tok", Active: true,
		Audit: models.NewAudit("7", testNow),
	}))
	stamp := vaultRepo.UsageStamp{At: testNow}

	_, err := shares.ConsumeUsage(ctx, "s", "rotated-away", models.AccessView, stamp)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := shares.GetByID(ctx, "s")
	require.NoError(t, err)
	got.Active = false
	require.NoError(t, shares.Update(ctx, got))

	ok, err := shares.ConsumeUsage(ctx, "s", "tok", models.AccessView, stamp)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err = shares.GetByID(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, got.CurrentViews)
}

func TestShareTokenIndex(t *testing.T) {
	store := NewStore()
	shares := NewShareRepository(store)
	ctx := context.Background()

	require.NoError(t, shares.Create(ctx, &models.FileShare{ID: "s1", FileID: "f", Token: "tok-alpha", Active: true, Audit: models.NewAudit("7", testNow)}))
	err := shares.Create(ctx, &models.FileShare{ID: "s2", FileID: "f", Token: "tok-alpha", Active: true, Audit: models.NewAudit("7", testNow)})
	assert.True(t, domain.HasConflictReason(err, domain.ConflictDuplicateToken))

	s, err := shares.GetByToken(ctx, "tok-alpha")
	require.NoError(t, err)
	s.Token = "tok-beta"
	require.NoError(t, shares.Update(ctx, s))

	_, err = shares.GetByToken(ctx, "tok-alpha")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotContains(t, err.Error(), "alpha")

	got, err := shares.GetByToken(ctx, "tok-beta")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
}
