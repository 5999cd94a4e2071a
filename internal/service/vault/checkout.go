package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filevault/internal/config"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	vaultRepo "filevault/internal/domain/repositories/vault"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/metrics"
)

type checkoutService struct {
	fileRepo     vaultRepo.FileRepository
	validator    *ResourceValidator
	defaultHours int
	metrics      metrics.Recorder
	clock        Clock
	logger       *slog.Logger
}

// NewCheckoutService creates a new checkout service. defaultHours applies
// when a checkout names no duration; a non-positive value falls back to
// config.DefaultCheckoutHours.
func NewCheckoutService(
	fileRepo vaultRepo.FileRepository,
	validator *ResourceValidator,
	defaultHours int,
	recorder metrics.Recorder,
	clock Clock,
	logger *slog.Logger,
) vaultSvc.CheckoutService {
	if defaultHours <= 0 {
		defaultHours = config.DefaultCheckoutHours
	}
	return &checkoutService{
		fileRepo:     fileRepo,
		validator:    validator,
		defaultHours: defaultHours,
		metrics:      recorder,
		clock:        clock,
		logger:       logger,
	}
}

// Checkout takes the advisory lock. The holder is set with a conditional
// write, so two racing callers cannot both succeed.
func (s *checkoutService) Checkout(ctx context.Context, fileID, userID string, expectedHours int) (*models.File, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Message: "user id is required"}
	}
	if expectedHours <= 0 {
		expectedHours = s.defaultHours
	}
	if _, err := s.validator.VisibleFile(ctx, fileID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ok, err := s.fileRepo.AcquireCheckout(ctx, fileID, userID, now, now.Add(time.Duration(expectedHours)*time.Hour))
	if err != nil {
		s.metrics.Checkout("checkout", metrics.OutcomeError)
		return nil, err
	}
	if !ok {
		s.metrics.Checkout("checkout", metrics.OutcomeRejected)
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("file %s is already checked out", fileID),
			Reason:       domain.ConflictAlreadyCheckedOut,
			ResourceType: "file",
			ResourceID:   fileID,
		}
	}
	s.metrics.Checkout("checkout", metrics.OutcomeSuccess)

	file, err := s.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("file checked out",
		"file_id", fileID,
		"user_id", userID,
		"expected_checkin_at", file.ExpectedCheckinAt,
	)
	return file, nil
}

// Checkin releases the lock. Only the current holder may check in.
func (s *checkoutService) Checkin(ctx context.Context, fileID, userID string) (*models.File, error) {
	if _, err := s.validator.VisibleFile(ctx, fileID); err != nil {
		return nil, err
	}

	ok, err := s.fileRepo.ReleaseCheckout(ctx, fileID, userID, s.clock.Now())
	if err != nil {
		s.metrics.Checkout("checkin", metrics.OutcomeError)
		return nil, err
	}
	if !ok {
		s.metrics.Checkout("checkin", metrics.OutcomeRejected)
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("file %s is not checked out by %s", fileID, userID),
			Reason:       domain.ConflictNotHolder,
			ResourceType: "file",
			ResourceID:   fileID,
		}
	}
	s.metrics.Checkout("checkin", metrics.OutcomeSuccess)

	s.logger.Info("file checked in", "file_id", fileID, "user_id", userID)
	return s.fileRepo.GetByID(ctx, fileID)
}

// ForceCheckin clears the lock whoever holds it. Releasing an unlocked file
// is a no-op.
func (s *checkoutService) ForceCheckin(ctx context.Context, fileID, adminID string) (*models.File, error) {
	file, err := s.validator.VisibleFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	released, err := s.fileRepo.ForceReleaseCheckout(ctx, fileID, adminID, s.clock.Now())
	if err != nil {
		s.metrics.Checkout("force_checkin", metrics.OutcomeError)
		return nil, err
	}
	if !released {
		return file, nil
	}
	s.metrics.Checkout("force_checkin", metrics.OutcomeSuccess)

	s.logger.Warn("checkout forcibly released",
		"file_id", fileID,
		"admin_id", adminID,
		"previous_holder", file.CheckedOutBy,
	)
	return s.fileRepo.GetByID(ctx, fileID)
}

func (s *checkoutService) IsOverdue(ctx context.Context, fileID string) (bool, error) {
	file, err := s.validator.VisibleFile(ctx, fileID)
	if err != nil {
		return false, err
	}
	return file.IsOverdue(s.clock.Now()), nil
}

func (s *checkoutService) ListOverdue(ctx context.Context) ([]models.File, error) {
	return s.fileRepo.ListOverdue(ctx, s.clock.Now())
}
