package vault

import "time"

// ShareType is how a share was handed out
type ShareType string

const (
	ShareLink  ShareType = "link"
	ShareEmail ShareType = "email"
	ShareUser  ShareType = "user"
	ShareEmbed ShareType = "embed"
)

func (t ShareType) Valid() bool {
	switch t {
	case ShareLink, ShareEmail, ShareUser, ShareEmbed:
		return true
	}
	return false
}

// FileShare exposes a file through an opaque token with optional password,
// usage caps and expiry
type FileShare struct {
	ID               string     `json:"id" db:"id"`
	FileID           string     `json:"file_id" db:"file_id"`
	Token            string     `json:"token" db:"token"`
	ShareType        ShareType  `json:"share_type" db:"share_type"`
	Recipient        string     `json:"recipient,omitempty" db:"recipient"`
	PasswordHash     *string    `json:"-" db:"password_hash"`
	Capabilities     Capability `json:"capabilities" db:"capabilities"`
	MaxDownloads     *int64     `json:"max_downloads,omitempty" db:"max_downloads"` // nil = unlimited
	MaxViews         *int64     `json:"max_views,omitempty" db:"max_views"`         // nil = unlimited
	CurrentDownloads int64      `json:"current_downloads" db:"current_downloads"`
	CurrentViews     int64      `json:"current_views" db:"current_views"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Active           bool       `json:"active" db:"active"`
	Message          string     `json:"message,omitempty" db:"message"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty" db:"last_accessed_at"`
	LastAccessedBy   *string    `json:"last_accessed_by,omitempty" db:"last_accessed_by"`
	LastAccessedIP   *string    `json:"last_accessed_ip,omitempty" db:"last_accessed_ip"`
	Audit
}

func (s *FileShare) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

// IsExpired is true once now reaches ExpiresAt
func (s *FileShare) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

func (s *FileShare) DownloadLimitReached() bool {
	return s.MaxDownloads != nil && s.CurrentDownloads >= *s.MaxDownloads
}

func (s *FileShare) ViewLimitReached() bool {
	return s.MaxViews != nil && s.CurrentViews >= *s.MaxViews
}

// IsLive is active and not soft-deleted
func (s *FileShare) IsLive() bool {
	return s.Active && !s.Deleted
}

// IsAccessible is active, not deleted, not expired and under the download cap
func (s *FileShare) IsAccessible(now time.Time) bool {
	return s.IsLive() && !s.IsExpired(now) && !s.DownloadLimitReached()
}

// RemainingDownloads returns nil when unlimited
func (s *FileShare) RemainingDownloads() *int64 {
	return remaining(s.MaxDownloads, s.CurrentDownloads)
}

// RemainingViews returns nil when unlimited
func (s *FileShare) RemainingViews() *int64 {
	return remaining(s.MaxViews, s.CurrentViews)
}

func remaining(limit *int64, current int64) *int64 {
	if limit == nil {
		return nil
	}
	left := *limit - current
	if left < 0 {
		left = 0
	}
	return &left
}

// Clone returns a deep copy safe to hand across a store boundary
func (s FileShare) Clone() FileShare {
	s.PasswordHash = cloneStringPtr(s.PasswordHash)
	s.MaxDownloads = cloneInt64Ptr(s.MaxDownloads)
	s.MaxViews = cloneInt64Ptr(s.MaxViews)
	s.ExpiresAt = cloneTimePtr(s.ExpiresAt)
	s.LastAccessedAt = cloneTimePtr(s.LastAccessedAt)
	s.LastAccessedBy = cloneStringPtr(s.LastAccessedBy)
	s.LastAccessedIP = cloneStringPtr(s.LastAccessedIP)
	s.Audit = s.Audit.clone()
	return s
}

// AccessType classifies a share access event
type AccessType string

const (
	AccessView     AccessType = "view"
	AccessDownload AccessType = "download"
	AccessPreview  AccessType = "preview"
	AccessPassword AccessType = "password"
)

func (t AccessType) Valid() bool {
	switch t {
	case AccessView, AccessDownload, AccessPreview, AccessPassword:
		return true
	}
	return false
}

// Counted reports whether the access type consumes a usage cap
func (t AccessType) Counted() bool {
	return t == AccessView || t == AccessDownload
}

// ShareAccess is one append-only access log row
type ShareAccess struct {
	ID            string     `json:"id" db:"id"`
	ShareID       string     `json:"share_id" db:"share_id"`
	AccessType    AccessType `json:"access_type" db:"access_type"`
	AccessedAt    time.Time  `json:"accessed_at" db:"accessed_at"`
	AccessedBy    *string    `json:"accessed_by,omitempty" db:"accessed_by"`
	IPAddress     string     `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent     string     `json:"user_agent,omitempty" db:"user_agent"`
	Referer       string     `json:"referer,omitempty" db:"referer"`
	Success       bool       `json:"success" db:"success"`
	FailureReason *string    `json:"failure_reason,omitempty" db:"failure_reason"`
}

// Clone returns a deep copy safe to hand across a store boundary
func (a ShareAccess) Clone() ShareAccess {
	a.AccessedBy = cloneStringPtr(a.AccessedBy)
	a.FailureReason = cloneStringPtr(a.FailureReason)
	return a
}
