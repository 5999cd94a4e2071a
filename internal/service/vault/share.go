package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"filevault/internal/config"
	"filevault/internal/domain"
	models "filevault/internal/domain/models/vault"
	"filevault/internal/domain/repositories"
	vaultRepo "filevault/internal/domain/repositories/vault"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/metrics"
	"filevault/internal/ratelimiter"
	"filevault/internal/telemetry"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
)

// ShareOptions tunes the share service
type ShareOptions struct {
	// BcryptCost for share passwords; zero uses the default
	BcryptCost int
	// Limiter throttles Resolve per share; nil disables throttling
	Limiter *ratelimiter.Keyed
	// Tokens generates share tokens; nil uses RandomToken
	Tokens TokenSource
}

type shareService struct {
	shareRepo  vaultRepo.ShareRepository
	accessRepo vaultRepo.AccessLogRepository
	fileRepo   vaultRepo.FileRepository
	txManager  repositories.TransactionManager
	validator  *ResourceValidator
	limiter    *ratelimiter.Keyed
	tokens     TokenSource
	bcryptCost int
	metrics    metrics.Recorder
	clock      Clock
	logger     *slog.Logger
}

// NewShareService creates a new share service
func NewShareService(
	shareRepo vaultRepo.ShareRepository,
	accessRepo vaultRepo.AccessLogRepository,
	fileRepo vaultRepo.FileRepository,
	txManager repositories.TransactionManager,
	validator *ResourceValidator,
	opts ShareOptions,
	recorder metrics.Recorder,
	clock Clock,
	logger *slog.Logger,
) vaultSvc.ShareService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = config.DefaultBcryptCost
	}
	if opts.Tokens == nil {
		opts.Tokens = RandomToken
	}
	return &shareService{
		shareRepo:  shareRepo,
		accessRepo: accessRepo,
		fileRepo:   fileRepo,
		txManager:  txManager,
		validator:  validator,
		limiter:    opts.Limiter,
		tokens:     opts.Tokens,
		bcryptCost: opts.BcryptCost,
		metrics:    recorder,
		clock:      clock,
		logger:     logger,
	}
}

func (s *shareService) validateCreate(req *vaultSvc.CreateShareRequest) error {
	now := s.clock.Now()
	positive := func(v *int64) validation.RuleFunc {
		return func(any) error {
			if v != nil && *v < 1 {
				return errors.New("must be at least 1")
			}
			return nil
		}
	}
	err := validation.ValidateStruct(req,
		validation.Field(&req.FileID, validation.Required),
		validation.Field(&req.CreatedBy, validation.Required),
		validation.Field(&req.ShareType, validation.By(func(any) error {
			if req.ShareType != "" && !req.ShareType.Valid() {
				return fmt.Errorf("unknown share type %q", req.ShareType)
			}
			return nil
		})),
		validation.Field(&req.Recipient, validation.When(
			req.ShareType == models.ShareEmail || req.ShareType == models.ShareUser,
			validation.Required,
		)),
		validation.Field(&req.Capabilities, validation.By(func(any) error {
			if !req.Capabilities.Valid() {
				return errors.New("contains unknown capabilities")
			}
			return nil
		})),
		validation.Field(&req.MaxDownloads, validation.By(positive(req.MaxDownloads))),
		validation.Field(&req.MaxViews, validation.By(positive(req.MaxViews))),
		validation.Field(&req.ExpiresAt, validation.By(func(any) error {
			if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
				return errors.New("must be in the future")
			}
			return nil
		})),
		validation.Field(&req.Password, validation.By(func(any) error {
			if req.Password == nil {
				return nil
			}
			if n := len(*req.Password); n < config.MinSharePasswordLength || n > config.MaxSharePasswordLength {
				return fmt.Errorf("must be %d to %d bytes", config.MinSharePasswordLength, config.MaxSharePasswordLength)
			}
			return nil
		})),
	)
	return validationErr("share request", err)
}

// CreateShare issues a token for a visible file. A token collision retries
// the whole transaction with a fresh token.
func (s *shareService) CreateShare(ctx context.Context, req *vaultSvc.CreateShareRequest) (*models.FileShare, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ShareService.CreateShare")
	defer span.End()

	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	shareType := req.ShareType
	if shareType == "" {
		shareType = models.ShareLink
	}
	caps := req.Capabilities
	if caps == models.CapNone {
		caps = models.CapRead | models.CapDownload
	}

	var passwordHash *string
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash share password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	var share *models.FileShare
	err := s.withFreshToken(func(token string) error {
		return s.txManager.ExecTx(ctx, func(ctx context.Context) error {
			file, err := s.validator.VisibleFile(ctx, req.FileID)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			share = &models.FileShare{
				ID:           uuid.NewString(),
				FileID:       file.ID,
				Token:        token,
				ShareType:    shareType,
				Recipient:    req.Recipient,
				PasswordHash: passwordHash,
				Capabilities: caps,
				MaxDownloads: req.MaxDownloads,
				MaxViews:     req.MaxViews,
				ExpiresAt:    req.ExpiresAt,
				Active:       true,
				Message:      req.Message,
				Audit:        models.NewAudit(req.CreatedBy, now),
			}
			if err := s.shareRepo.Create(ctx, share); err != nil {
				return err
			}
			return s.fileRepo.IncrementCounters(ctx, file.ID, models.CounterDelta{Shares: 1}, now)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("share created",
		"id", share.ID,
		"file_id", share.FileID,
		"share_type", share.ShareType,
		"capabilities", share.Capabilities.String(),
		"password", share.HasPassword(),
	)
	return share, nil
}

// withFreshToken runs fn with newly generated tokens until it succeeds, fails
// for a reason other than a token collision, or runs out of attempts
func (s *shareService) withFreshToken(fn func(token string) error) error {
	var err error
	for attempt := 1; attempt <= config.MaxTokenAttempts; attempt++ {
		var token string
		token, err = s.tokens()
		if err != nil {
			return err
		}
		err = fn(token)
		if !domain.HasConflictReason(err, domain.ConflictDuplicateToken) {
			return err
		}
		s.logger.Warn("share token collision, regenerating", "attempt", attempt)
	}
	return err
}

// lookup resolves a token to a live share on a visible file. Unknown,
// inactive and deleted shares are indistinguishable to the caller.
func (s *shareService) lookup(ctx context.Context, token string) (*models.FileShare, error) {
	if token == "" {
		return nil, &domain.NotFoundError{Message: "share not found"}
	}
	share, err := s.shareRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Message: "share not found"}
		}
		return nil, err
	}
	if !share.IsLive() {
		return nil, &domain.NotFoundError{Message: "share not found"}
	}
	file, err := s.fileRepo.GetByID(ctx, share.FileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Message: "share not found"}
		}
		return nil, err
	}
	if !file.IsVisible() {
		return nil, &domain.NotFoundError{Message: "share not found"}
	}
	return share, nil
}

func expiredErr(share *models.FileShare) error {
	return &domain.ExpiredError{
		Message:   "share has expired",
		ExpiredAt: *share.ExpiresAt,
	}
}

func limitErr(kind domain.LimitKind) error {
	msg := "share rate limit exceeded"
	switch kind {
	case domain.LimitDownloads:
		msg = "share download limit reached"
	case domain.LimitViews:
		msg = "share view limit reached"
	}
	return &domain.LimitReachedError{Message: msg, Limit: kind}
}

// outcomeOf maps an error to a metrics outcome label
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrExpired):
		return metrics.OutcomeExpired
	case errors.Is(err, domain.ErrLimitReached):
		return metrics.OutcomeLimited
	case errors.Is(err, domain.ErrValidation):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// Resolve checks liveness, expiry, both usage caps and the per-share rate
// limit, in that order. It consumes rate budget but no usage quota.
func (s *shareService) Resolve(ctx context.Context, token string) (resolved *vaultSvc.ResolvedShare, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ShareService.Resolve")
	defer span.End()
	defer func() { s.metrics.ShareAccess("resolve", outcomeOf(err)) }()

	share, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("share.id", share.ID))

	now := s.clock.Now()
	switch {
	case share.IsExpired(now):
		return nil, expiredErr(share)
	case share.DownloadLimitReached():
		return nil, limitErr(domain.LimitDownloads)
	case share.ViewLimitReached():
		return nil, limitErr(domain.LimitViews)
	case !s.limiter.Allow(share.ID, now):
		return nil, limitErr(domain.LimitRate)
	}

	return &vaultSvc.ResolvedShare{
		Share:              share,
		RemainingDownloads: share.RemainingDownloads(),
		RemainingViews:     share.RemainingViews(),
	}, nil
}

func (s *shareService) VerifyPassword(share *models.FileShare, candidate string) bool {
	if share == nil {
		return false
	}
	if !share.HasPassword() {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(*share.PasswordHash), []byte(candidate)) == nil
}

// RecordAccess appends a log row. Views and downloads first consume quota
// with a conditional increment, so concurrent callers can never push a
// counter past its cap. Share accesses also count against the file.
func (s *shareService) RecordAccess(ctx context.Context, token string, event *vaultSvc.AccessEvent) (access *models.ShareAccess, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ShareService.RecordAccess")
	defer span.End()

	if event == nil || !event.Type.Valid() {
		return nil, &domain.ValidationError{Message: "invalid access type"}
	}
	defer func() { s.metrics.ShareAccess(string(event.Type), outcomeOf(err)) }()

	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		share, err := s.lookup(ctx, token)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if share.IsExpired(now) {
			return expiredErr(share)
		}

		if event.Type.Counted() {
			ok, err := s.shareRepo.ConsumeUsage(ctx, share.ID, token, event.Type, vaultRepo.UsageStamp{
				At: now,
				By: event.AccessedBy,
				IP: event.IPAddress,
			})
			if err != nil {
				return err
			}
			if !ok {
				if event.Type == models.AccessDownload {
					return limitErr(domain.LimitDownloads)
				}
				return limitErr(domain.LimitViews)
			}

			delta := models.CounterDelta{Views: 1, AccessedBy: event.AccessedBy}
			if event.Type == models.AccessDownload {
				delta.Downloads = 1
			}
			if err := s.fileRepo.IncrementCounters(ctx, share.FileID, delta, now); err != nil {
				return err
			}
		}

		access = newAccess(share.ID, event, now)
		access.Success = true
		return s.accessRepo.Append(ctx, access)
	})
	if err != nil {
		return nil, err
	}
	return access, nil
}

// RecordFailedAccess logs a rejected attempt against any known share,
// including inactive ones
func (s *shareService) RecordFailedAccess(ctx context.Context, token string, event *vaultSvc.AccessEvent, reason string) (*models.ShareAccess, error) {
	if event == nil || !event.Type.Valid() {
		return nil, &domain.ValidationError{Message: "invalid access type"}
	}
	share, err := s.shareRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	access := newAccess(share.ID, event, s.clock.Now())
	access.FailureReason = &reason
	if err := s.accessRepo.Append(ctx, access); err != nil {
		return nil, err
	}
	s.metrics.ShareAccess(string(event.Type), metrics.OutcomeRejected)

	s.logger.Warn("share access rejected",
		"share_id", share.ID,
		"access_type", event.Type,
		"reason", reason,
		"ip", event.IPAddress,
	)
	return access, nil
}

func newAccess(shareID string, event *vaultSvc.AccessEvent, now time.Time) *models.ShareAccess {
	return &models.ShareAccess{
		ID:         uuid.NewString(),
		ShareID:    shareID,
		AccessType: event.Type,
		AccessedAt: now,
		AccessedBy: event.AccessedBy,
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
		Referer:    event.Referer,
	}
}

// RotateToken issues a new token; the old one stops resolving at commit
func (s *shareService) RotateToken(ctx context.Context, token, actor string) (*models.FileShare, error) {
	var share *models.FileShare
	err := s.withFreshToken(func(newToken string) error {
		return s.txManager.ExecTx(ctx, func(ctx context.Context) error {
			var err error
			share, err = s.lookup(ctx, token)
			if err != nil {
				return err
			}
			share.Token = newToken
			share.Touch(actor, s.clock.Now())
			return s.shareRepo.Update(ctx, share)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("share token rotated", "id", share.ID, "actor", actor)
	return share, nil
}

func (s *shareService) Deactivate(ctx context.Context, token, actor string) (*models.FileShare, error) {
	share, err := s.shareRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !share.Active {
		return share, nil
	}
	share.Active = false
	share.Touch(actor, s.clock.Now())
	if err := s.shareRepo.Update(ctx, share); err != nil {
		return nil, err
	}
	s.limiter.Forget(share.ID)

	s.logger.Info("share deactivated", "id", share.ID, "actor", actor)
	return share, nil
}

// IsAccessible evaluates the accessibility predicate. Unknown tokens are
// simply not accessible.
func (s *shareService) IsAccessible(ctx context.Context, token string) (bool, error) {
	share, err := s.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return share.IsAccessible(s.clock.Now()), nil
}

func (s *shareService) ListAccessLog(ctx context.Context, token string) ([]models.ShareAccess, error) {
	share, err := s.shareRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.accessRepo.ListByShare(ctx, share.ID)
}

// ExpireStale deactivates active shares past their expiry. A share modified
// concurrently is skipped and picked up by the next sweep.
func (s *shareService) ExpireStale(ctx context.Context, actor string) (int, error) {
	now := s.clock.Now()
	stale, err := s.shareRepo.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		share := &stale[i]
		share.Active = false
		share.Touch(actor, now)
		if err := s.shareRepo.Update(ctx, share); err != nil {
			if errors.Is(err, domain.ErrConcurrency) {
				s.logger.Warn("share changed during expiry sweep", "id", share.ID)
				continue
			}
			return expired, err
		}
		s.limiter.Forget(share.ID)
		expired++
	}

	if expired > 0 {
		s.logger.Info("stale shares expired", "count", expired)
	}
	return expired, nil
}
