package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filevault/internal/capabilities"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	"filevault/internal/domain/repositories"
	vaultRepo "filevault/internal/domain/repositories/vault"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/metrics"
	"filevault/internal/telemetry"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

type permissionService struct {
	permRepo  vaultRepo.PermissionRepository
	txManager repositories.TransactionManager
	validator *ResourceValidator
	presets   *capabilities.Registry
	cache     *permissionCache
	metrics   metrics.Recorder
	clock     Clock
	logger    *slog.Logger
}

// NewPermissionService creates a new permission service. cacheTTL <= 0
// disables the effective-capability cache.
func NewPermissionService(
	permRepo vaultRepo.PermissionRepository,
	txManager repositories.TransactionManager,
	validator *ResourceValidator,
	presets *capabilities.Registry,
	cacheTTL time.Duration,
	recorder metrics.Recorder,
	clock Clock,
	logger *slog.Logger,
) vaultSvc.PermissionService {
	return &permissionService{
		permRepo:  permRepo,
		txManager: txManager,
		validator: validator,
		presets:   presets,
		cache:     newPermissionCache(cacheTTL, clock),
		metrics:   recorder,
		clock:     clock,
		logger:    logger,
	}
}

// Grant creates a new active row. An effective row for the same subject is a
// conflict; an active row that has merely expired is retired first.
func (s *permissionService) Grant(ctx context.Context, req *vaultSvc.GrantRequest) (*models.FilePermission, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "PermissionService.Grant")
	defer span.End()

	now := s.clock.Now()
	err := validation.ValidateStruct(req,
		validation.Field(&req.FileID, validation.Required),
		validation.Field(&req.GrantedBy, validation.Required),
		validation.Field(&req.Subject, validation.By(func(any) error { return req.Subject.Validate() })),
		validation.Field(&req.Capabilities, validation.By(func(any) error {
			if req.Capabilities == models.CapNone || !req.Capabilities.Valid() {
				return fmt.Errorf("must be a non-empty set of known capabilities")
			}
			return nil
		})),
		validation.Field(&req.ExpiresAt, validation.By(func(any) error {
			if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
				return fmt.Errorf("must be in the future")
			}
			return nil
		})),
	)
	if err != nil {
		return nil, validationErr("grant request", err)
	}

	var perm *models.FilePermission
	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		if _, err := s.validator.VisibleFile(ctx, req.FileID); err != nil {
			return err
		}
		if err := s.retireExpired(ctx, req.FileID, req.Subject, "", req.GrantedBy, now); err != nil {
			return err
		}

		perm = &models.FilePermission{
			ID:           uuid.NewString(),
			FileID:       req.FileID,
			Subject:      req.Subject,
			Capabilities: req.Capabilities,
			Active:       true,
			GrantedBy:    req.GrantedBy,
			GrantedAt:    now,
			ExpiresAt:    req.ExpiresAt,
			Notes:        req.Notes,
			Audit:        models.NewAudit(req.GrantedBy, now),
		}
		return s.permRepo.Create(ctx, perm)
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(perm.FileID, perm.Subject)

	s.logger.Info("permission granted",
		"id", perm.ID,
		"file_id", perm.FileID,
		"subject", perm.Subject.Key(),
		"capabilities", perm.Capabilities.String(),
		"granted_by", perm.GrantedBy,
	)
	return perm, nil
}

// retireExpired enforces one active row per (file, subject). An effective
// row other than exceptID is a conflict. Active rows that have expired are
// deactivated so a new row can take their place.
func (s *permissionService) retireExpired(ctx context.Context, fileID string, subject models.Subject, exceptID, actor string, now time.Time) error {
	rows, err := s.permRepo.ListBySubject(ctx, fileID, subject)
	if err != nil {
		return fmt.Errorf("failed to list existing grants: %w", err)
	}
	for i := range rows {
		row := &rows[i]
		if row.ID == exceptID || !row.Active || row.Deleted {
			continue
		}
		if row.IsEffective(now) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("%s already holds an active grant on file %s", subject, fileID),
				Reason:       domain.ConflictAlreadyGranted,
				ResourceType: "permission",
				ResourceID:   row.ID,
			}
		}
		row.Active = false
		row.Touch(actor, now)
		if err := s.permRepo.Update(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// GrantPreset resolves a named bundle and grants it
func (s *permissionService) GrantPreset(ctx context.Context, req *vaultSvc.GrantPresetRequest) (*models.FilePermission, error) {
	mask, err := s.presets.Mask(req.Preset)
	if err != nil {
		return nil, err
	}
	return s.Grant(ctx, &vaultSvc.GrantRequest{
		FileID:       req.FileID,
		Subject:      req.Subject,
		Capabilities: mask,
		GrantedBy:    req.GrantedBy,
		ExpiresAt:    req.ExpiresAt,
		Notes:        fmt.Sprintf("preset %s", req.Preset),
	})
}

// Revoke deactivates a grant. The cache entry is dropped before returning,
// so no later check observes the grant.
func (s *permissionService) Revoke(ctx context.Context, permissionID, revokedBy, reason string) (*models.FilePermission, error) {
	if revokedBy == "" {
		return nil, &domain.ValidationError{Message: "revoked_by is required"}
	}

	perm, err := s.load(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	if perm.IsRevoked() {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("permission %s is already revoked", permissionID),
			Reason:       domain.ConflictAlreadyRevoked,
			ResourceType: "permission",
			ResourceID:   permissionID,
		}
	}

	now := s.clock.Now()
	perm.Active = false
	perm.RevokedAt = &now
	perm.RevokedBy = &revokedBy
	perm.RevokeReason = nil
	if reason != "" {
		perm.RevokeReason = &reason
	}
	perm.Touch(revokedBy, now)
	err = s.permRepo.Update(ctx, perm)
	s.cache.invalidate(perm.FileID, perm.Subject)
	if err != nil {
		return nil, err
	}

	s.logger.Info("permission revoked",
		"id", perm.ID,
		"file_id", perm.FileID,
		"subject", perm.Subject.Key(),
		"revoked_by", revokedBy,
	)
	return perm, nil
}

// Restore clears a revocation and reactivates the row
func (s *permissionService) Restore(ctx context.Context, permissionID, restoredBy, reason string) (*models.FilePermission, error) {
	var perm *models.FilePermission
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		perm, err = s.load(ctx, permissionID)
		if err != nil {
			return err
		}
		if !perm.IsRevoked() {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("permission %s is not revoked", permissionID),
				Reason:       domain.ConflictNotRevoked,
				ResourceType: "permission",
				ResourceID:   permissionID,
			}
		}

		now := s.clock.Now()
		if err := s.retireExpired(ctx, perm.FileID, perm.Subject, perm.ID, restoredBy, now); err != nil {
			return err
		}
		perm.Active = true
		perm.RevokedAt = nil
		perm.RevokedBy = nil
		perm.RevokeReason = nil
		if reason != "" {
			perm.Notes = reason
		}
		perm.Touch(restoredBy, now)
		return s.permRepo.Update(ctx, perm)
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(perm.FileID, perm.Subject)

	s.logger.Info("permission restored", "id", perm.ID, "restored_by", restoredBy)
	return perm, nil
}

// ExtendExpiry moves a grant's expiry forward
func (s *permissionService) ExtendExpiry(ctx context.Context, permissionID string, newExpiry time.Time, actor string) (*models.FilePermission, error) {
	now := s.clock.Now()
	if !newExpiry.After(now) {
		return nil, &domain.ValidationError{Message: "new expiry must be in the future"}
	}

	perm, err := s.load(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	perm.ExpiresAt = &newExpiry
	perm.Touch(actor, now)
	err = s.permRepo.Update(ctx, perm)
	s.cache.invalidate(perm.FileID, perm.Subject)
	if err != nil {
		return nil, err
	}

	s.logger.Info("permission expiry extended", "id", perm.ID, "expires_at", newExpiry)
	return perm, nil
}

func (s *permissionService) HasPermission(ctx context.Context, fileID string, subject models.Subject, c models.Capability) (bool, error) {
	caps, err := s.EffectiveCapabilities(ctx, fileID, subject)
	if err != nil {
		return false, err
	}
	return caps.Has(c), nil
}

// EffectiveCapabilities is the union of the subject's effective rows
func (s *permissionService) EffectiveCapabilities(ctx context.Context, fileID string, subject models.Subject) (models.Capability, error) {
	if err := subject.Validate(); err != nil {
		return models.CapNone, &domain.ValidationError{Message: err.Error()}
	}

	caps, hit, err := s.cache.get(ctx, fileID, subject, func(ctx context.Context) (models.Capability, time.Time, error) {
		rows, err := s.permRepo.ListBySubject(ctx, fileID, subject)
		if err != nil {
			return models.CapNone, time.Time{}, err
		}
		now := s.clock.Now()
		var (
			union      models.Capability
			validUntil time.Time
		)
		for i := range rows {
			row := &rows[i]
			if !row.IsEffective(now) {
				continue
			}
			union |= row.Capabilities
			if row.ExpiresAt != nil && (validUntil.IsZero() || row.ExpiresAt.Before(validUntil)) {
				validUntil = *row.ExpiresAt
			}
		}
		return union, validUntil, nil
	})
	if err != nil {
		return models.CapNone, err
	}
	s.metrics.PermissionCacheLookup(hit)
	return caps, nil
}

func (s *permissionService) GetLevel(ctx context.Context, fileID string, subject models.Subject) (models.Level, error) {
	caps, err := s.EffectiveCapabilities(ctx, fileID, subject)
	if err != nil {
		return models.LevelNone, err
	}
	return models.LevelFor(caps), nil
}

func (s *permissionService) EffectiveLevel(ctx context.Context, permissionID string) (models.Level, error) {
	perm, err := s.load(ctx, permissionID)
	if err != nil {
		return models.LevelNone, err
	}
	return perm.EffectiveLevel(s.clock.Now()), nil
}

func (s *permissionService) ListForFile(ctx context.Context, fileID string) ([]models.FilePermission, error) {
	return s.permRepo.ListByFile(ctx, fileID)
}

// load returns a grant that is not soft-deleted
func (s *permissionService) load(ctx context.Context, id string) (*models.FilePermission, error) {
	perm, err := s.permRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if perm.Deleted {
		return nil, fmt.Errorf("permission %s: %w", id, domain.ErrNotFound)
	}
	return perm, nil
}
