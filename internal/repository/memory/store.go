package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	"filevault/internal/domain/repositories"
)

// Store is an in-memory implementation of every vault repository.
//
// All maps are guarded by a single RWMutex. ExecTx holds the write lock for
// the whole callback, so a transaction is serializable and no reader sees a
// partially rewritten subtree. Values are stored by value and cloned on the
// way in and out; callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	folders     map[string]models.Folder
	files       map[string]models.File
	versions    map[string]models.FileVersion
	permissions map[string]models.FilePermission
	shares      map[string]models.FileShare
	shareTokens map[string]string // token -> share id
	accessLog   map[string][]models.ShareAccess
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		folders:     make(map[string]models.Folder),
		files:       make(map[string]models.File),
		versions:    make(map[string]models.FileVersion),
		permissions: make(map[string]models.FilePermission),
		shares:      make(map[string]models.FileShare),
		shareTokens: make(map[string]string),
		accessLog:   make(map[string][]models.ShareAccess),
	}
}

var _ repositories.TransactionManager = (*Store)(nil)

type txContextKey struct{}

// NewTransactionManager returns the store's transaction manager
func NewTransactionManager(s *Store) repositories.TransactionManager {
	return s
}

// ExecTx runs fn under the store's write lock. If fn fails or panics the
// store is rolled back to its state before the call.
func (s *Store) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
		s.mu.Unlock()
	}()

	if err := fn(context.WithValue(ctx, txContextKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txContextKey{}).(*Store)
	return owner == s
}

// read runs fn under the read lock unless ctx already holds the write lock
func (s *Store) read(ctx context.Context, fn func()) {
	if s.inTx(ctx) {
		fn()
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// write runs fn under the write lock unless ctx already holds it
func (s *Store) write(ctx context.Context, fn func() error) error {
	if s.inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type snapshot struct {
	folders     map[string]models.Folder
	files       map[string]models.File
	versions    map[string]models.FileVersion
	permissions map[string]models.FilePermission
	shares      map[string]models.FileShare
	shareTokens map[string]string
	accessLog   map[string][]models.ShareAccess
}

// Stored values are replaced wholesale on every write, so a shallow copy of
// each map is a consistent snapshot.
func (s *Store) snapshot() snapshot {
	return snapshot{
		folders:     maps.Clone(s.folders),
		files:       maps.Clone(s.files),
		versions:    maps.Clone(s.versions),
		permissions: maps.Clone(s.permissions),
		shares:      maps.Clone(s.shares),
		shareTokens: maps.Clone(s.shareTokens),
		accessLog:   maps.Clone(s.accessLog),
	}
}

func (s *Store) restore(snap snapshot) {
	s.folders = snap.folders
	s.files = snap.files
	s.versions = snap.versions
	s.permissions = snap.permissions
	s.shares = snap.shares
	s.shareTokens = snap.shareTokens
	s.accessLog = snap.accessLog
}

func notFound(resource, id string) error {
	return fmt.Errorf("%s %s: %w", resource, id, domain.ErrNotFound)
}

func staleVersion(resource, id string, expected int64) error {
	return &domain.ConcurrencyError{
		Message:      fmt.Sprintf("%s %s was modified concurrently (version %d is stale)", resource, id, expected),
		ResourceType: resource,
		ResourceID:   id,
		Expected:     expected,
	}
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
