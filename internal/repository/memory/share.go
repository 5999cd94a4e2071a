package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"
)

type shareRepository struct {
	store *Store
}

// NewShareRepository creates a share repository backed by the store
func NewShareRepository(store *Store) vaultRepo.ShareRepository {
	return &shareRepository{store: store}
}

func (r *shareRepository) Create(ctx context.Context, share *models.FileShare) error {
	return r.store.write(ctx, func() error {
		if _, exists := r.store.shares[share.ID]; exists {
			return fmt.Errorf("share %s: %w", share.ID, domain.ErrConflict)
		}
		if owner, taken := r.store.shareTokens[share.Token]; taken {
			return duplicateToken(owner)
		}
		r.store.shares[share.ID] = share.Clone()
		r.store.shareTokens[share.Token] = share.ID
		return nil
	})
}

func (r *shareRepository) GetByID(ctx context.Context, id string) (*models.FileShare, error) {
	var (
		out models.FileShare
		ok  bool
	)
	r.store.read(ctx, func() {
		var stored models.FileShare
		if stored, ok = r.store.shares[id]; ok {
			out = stored.Clone()
		}
	})
	if !ok {
		return nil, notFound("share", id)
	}
	return &out, nil
}

func (r *shareRepository) GetByToken(ctx context.Context, token string) (*models.FileShare, error) {
	var (
		out models.FileShare
		ok  bool
	)
	r.store.read(ctx, func() {
		id, indexed := r.store.shareTokens[token]
		if !indexed {
			return
		}
		var stored models.FileShare
		if stored, ok = r.store.shares[id]; ok {
			out = stored.Clone()
		}
	})
	if !ok {
		// Never echo the token into errors or logs
		return nil, fmt.Errorf("share: %w", domain.ErrNotFound)
	}
	return &out, nil
}

func (r *shareRepository) Update(ctx context.Context, share *models.FileShare) error {
	return r.store.write(ctx, func() error {
		stored, ok := r.store.shares[share.ID]
		if !ok {
			return notFound("share", share.ID)
		}
		if stored.Version != share.Version {
			return staleVersion("share", share.ID, share.Version)
		}
		if stored.Token != share.Token {
			if owner, taken := r.store.shareTokens[share.Token]; taken {
				return duplicateToken(owner)
			}
			delete(r.store.shareTokens, stored.Token)
			r.store.shareTokens[share.Token] = share.ID
		}

		next := share.Clone()
		// Usage counters only move through ConsumeUsage
		next.CurrentDownloads = stored.CurrentDownloads
		next.CurrentViews = stored.CurrentViews
		next.LastAccessedAt = stored.LastAccessedAt
		next.LastAccessedBy = stored.LastAccessedBy
		next.LastAccessedIP = stored.LastAccessedIP
		next.Version++

		share.Version = next.Version
		r.store.shares[share.ID] = next
		return nil
	})
}

func (r *shareRepository) ConsumeUsage(ctx context.Context, id, token string, accessType models.AccessType, stamp vaultRepo.UsageStamp) (bool, error) {
	consumed := false
	err := r.store.write(ctx, func() error {
		stored, ok := r.store.shares[id]
		if !ok {
			return notFound("share", id)
		}
		if !stored.Active || stored.Deleted || stored.Token != token {
			return fmt.Errorf("share %s is no longer valid: %w", id, domain.ErrNotFound)
		}

		switch accessType {
		case models.AccessDownload:
			if stored.DownloadLimitReached() {
				return nil
			}
			stored.CurrentDownloads++
		case models.AccessView:
			if stored.ViewLimitReached() {
				return nil
			}
			stored.CurrentViews++
		default:
			return fmt.Errorf("access type %q does not consume quota: %w", accessType, domain.ErrValidation)
		}

		at := stamp.At
		stored.LastAccessedAt = &at
		if stamp.By != nil {
			by := *stamp.By
			stored.LastAccessedBy = &by
		}
		if stamp.IP != "" {
			ip := stamp.IP
			stored.LastAccessedIP = &ip
		}
		stored.Version++
		r.store.shares[id] = stored
		consumed = true
		return nil
	})
	return consumed, err
}

func (r *shareRepository) ListByFile(ctx context.Context, fileID string) ([]models.FileShare, error) {
	return r.list(ctx, func(s *models.FileShare) bool { return s.FileID == fileID }), nil
}

func (r *shareRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]models.FileShare, error) {
	return r.list(ctx, func(s *models.FileShare) bool {
		return s.Active && !s.Deleted && s.IsExpired(now)
	}), nil
}

func (r *shareRepository) list(ctx context.Context, keep func(*models.FileShare) bool) []models.FileShare {
	var out []models.FileShare
	r.store.read(ctx, func() {
		for _, s := range r.store.shares {
			if keep(&s) {
				out = append(out, s.Clone())
			}
		}
	})
	slices.SortFunc(out, func(a, b models.FileShare) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func duplicateToken(ownerID string) error {
	return &domain.ConflictError{
		Message:      "share token already in use",
		Reason:       domain.ConflictDuplicateToken,
		ResourceType: "share",
		ResourceID:   ownerID,
	}
}

type accessLogRepository struct {
	store *Store
}

// NewAccessLogRepository creates an access log backed by the store
func NewAccessLogRepository(store *Store) vaultRepo.AccessLogRepository {
	return &accessLogRepository{store: store}
}

func (r *accessLogRepository) Append(ctx context.Context, access *models.ShareAccess) error {
	return r.store.write(ctx, func() error {
		if _, ok := r.store.shares[access.ShareID]; !ok {
			return notFound("share", access.ShareID)
		}
		r.store.accessLog[access.ShareID] = append(r.store.accessLog[access.ShareID], access.Clone())
		return nil
	})
}

func (r *accessLogRepository) ListByShare(ctx context.Context, shareID string) ([]models.ShareAccess, error) {
	var out []models.ShareAccess
	r.store.read(ctx, func() {
		rows := r.store.accessLog[shareID]
		out = make([]models.ShareAccess, 0, len(rows))
		for _, a := range rows {
			out = append(out, a.Clone())
		}
	})
	return out, nil
}
