package vault

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"filevault/internal/capabilities"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/metrics"
	"filevault/internal/ratelimiter"
	"filevault/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

// fakeClock is a settable Clock for tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store       *memory.Store
	clock       *fakeClock
	limiter     *ratelimiter.Keyed
	folders     vaultSvc.FolderService
	files       vaultSvc.FileService
	checkout    vaultSvc.CheckoutService
	permissions vaultSvc.PermissionService
	shares      vaultSvc.ShareService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cacheTTL time.Duration
	limiter  *ratelimiter.Keyed
	tokens   TokenSource
}

func withCacheTTL(ttl time.Duration) harnessOption {
	return func(c *harnessConfig) { c.cacheTTL = ttl }
}

func withLimiter(l *ratelimiter.Keyed) harnessOption {
	return func(c *harnessConfig) { c.limiter = l }
}

func withTokens(src TokenSource) harnessOption {
	return func(c *harnessConfig) { c.tokens = src }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{cacheTTL: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	presets, err := capabilities.NewRegistry()
	require.NoError(t, err)

	store := memory.NewStore()
	folderRepo := memory.NewFolderRepository(store)
	fileRepo := memory.NewFileRepository(store)
	versionRepo := memory.NewVersionRepository(store)
	permRepo := memory.NewPermissionRepository(store)
	shareRepo := memory.NewShareRepository(store)
	accessRepo := memory.NewAccessLogRepository(store)
	txManager := memory.NewTransactionManager(store)

	clock := newFakeClock()
	logger := discardLogger()
	recorder := metrics.Noop{}
	validator := NewResourceValidator(folderRepo, fileRepo)

	return &harness{
		store:    store,
		clock:    clock,
		limiter:  cfg.limiter,
		folders:  NewFolderService(folderRepo, fileRepo, txManager, validator, recorder, clock, logger),
		files:    NewFileService(fileRepo, versionRepo, txManager, validator, clock, logger),
		checkout: NewCheckoutService(fileRepo, validator, 8, recorder, clock, logger),
		permissions: NewPermissionService(permRepo, txManager, validator, presets, cfg.cacheTTL,
			recorder, clock, logger),
		shares: NewShareService(shareRepo, accessRepo, fileRepo, txManager, validator, ShareOptions{
			BcryptCost: 4,
			Limiter:    cfg.limiter,
			Tokens:     cfg.tokens,
		}, recorder, clock, logger),
	}
}
