package domain

import (
	"errors"
	"net/http"
	"time"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Calling layers translate domain failures through this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrExpired          = errors.New("expired")
	ErrLimitReached     = errors.New("limit reached")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConcurrency      = errors.New("stale version")
)

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates an unknown id or token
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates malformed input
	ValidationError struct {
		Message string
	}

	// PermissionDeniedError is raised by calling layers from resolver output
	PermissionDeniedError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string         { return e.Message }
func (e *ValidationError) Error() string       { return e.Message }
func (e *PermissionDeniedError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int         { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int       { return http.StatusBadRequest }
func (e *PermissionDeniedError) StatusCode() int { return http.StatusForbidden }

func (e *NotFoundError) Is(target error) bool         { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool       { return target == ErrValidation }
func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// ConflictReason identifies which precondition a ConflictError violated
type ConflictReason string

const (
	ConflictDuplicateName     ConflictReason = "duplicate_name"
	ConflictMoveCycle         ConflictReason = "move_cycle"
	ConflictAlreadyCheckedOut ConflictReason = "already_checked_out"
	ConflictNotHolder         ConflictReason = "not_holder"
	ConflictAlreadyGranted    ConflictReason = "already_granted"
	ConflictAlreadyRevoked    ConflictReason = "already_revoked"
	ConflictNotRevoked        ConflictReason = "not_revoked"
	ConflictDuplicateToken    ConflictReason = "duplicate_token"
)

// ConflictError represents a violated structural or state precondition
type ConflictError struct {
	Message      string         // Human-readable error message
	Reason       ConflictReason // Machine-readable cause
	ResourceType string         // folder, file, permission, share
	ResourceID   string         // ID of the existing/conflicting resource
}

func (e *ConflictError) Error() string   { return e.Message }
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ExpiredError indicates a time-bounded resource is past its expiry
type ExpiredError struct {
	Message   string
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string        { return e.Message }
func (e *ExpiredError) StatusCode() int      { return http.StatusGone }
func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

// LimitKind names the cap a LimitReachedError refers to
type LimitKind string

const (
	LimitDownloads LimitKind = "downloads"
	LimitViews     LimitKind = "views"
	LimitRate      LimitKind = "rate"
)

// LimitReachedError indicates a usage cap or rate limit was hit
type LimitReachedError struct {
	Message string
	Limit   LimitKind
}

func (e *LimitReachedError) Error() string        { return e.Message }
func (e *LimitReachedError) StatusCode() int      { return http.StatusTooManyRequests }
func (e *LimitReachedError) Is(target error) bool { return target == ErrLimitReached }

// ConcurrencyError indicates an update was based on a stale version counter
type ConcurrencyError struct {
	Message      string
	ResourceType string
	ResourceID   string
	Expected     int64
}

func (e *ConcurrencyError) Error() string        { return e.Message }
func (e *ConcurrencyError) StatusCode() int      { return http.StatusConflict }
func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// HasConflictReason reports whether err is a ConflictError with the given reason
func HasConflictReason(err error, reason ConflictReason) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason == reason
	}
	return false
}

// HasLimit reports whether err is a LimitReachedError for the given cap
func HasLimit(err error, limit LimitKind) bool {
	var le *LimitReachedError
	if errors.As(err, &le) {
		return le.Limit == limit
	}
	return false
}
