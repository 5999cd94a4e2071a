package vault

import (
	"path/filepath"
	"strings"
	"time"
)

// File is a file's identity, metadata, checkout state and a cache of its
// current version's size and hash. The cache is only ever written together
// with a version append.
type File struct {
	ID               string  `json:"id" db:"id"`
	ProjectID        string  `json:"project_id" db:"project_id"`
	FolderID         string  `json:"folder_id" db:"folder_id"`
	Name             string  `json:"name" db:"name"`
	Extension        string  `json:"extension" db:"extension"`
	MimeType         string  `json:"mime_type" db:"mime_type"`
	FileType         string  `json:"file_type" db:"file_type"`
	CurrentSize      int64   `json:"current_size" db:"current_size"`
	CurrentHash      string  `json:"current_hash" db:"current_hash"`
	CurrentVersionID *string `json:"current_version_id,omitempty" db:"current_version_id"`
	VersionCount     int     `json:"version_count" db:"version_count"`

	// Checkout lock. CheckedOutBy == nil means unlocked.
	CheckedOutBy      *string    `json:"checked_out_by,omitempty" db:"checked_out_by"`
	CheckedOutAt      *time.Time `json:"checked_out_at,omitempty" db:"checked_out_at"`
	ExpectedCheckinAt *time.Time `json:"expected_checkin_at,omitempty" db:"expected_checkin_at"`

	DownloadCount  int64      `json:"download_count" db:"download_count"`
	ViewCount      int64      `json:"view_count" db:"view_count"`
	ShareCount     int64      `json:"share_count" db:"share_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty" db:"last_accessed_at"`
	LastAccessedBy *string    `json:"last_accessed_by,omitempty" db:"last_accessed_by"`

	Tags     []string       `json:"tags" db:"tags"`
	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`
	Audit
}

// IsVisible is the active-view predicate for files
func (f *File) IsVisible() bool {
	return !f.Deleted
}

// IsCheckedOut reports whether a checkout lock is held
func (f *File) IsCheckedOut() bool {
	return f.CheckedOutBy != nil
}

// IsOverdue is true iff the file is checked out and now is past the expected checkin
func (f *File) IsOverdue(now time.Time) bool {
	return f.IsCheckedOut() && f.ExpectedCheckinAt != nil && now.After(*f.ExpectedCheckinAt)
}

// ExtensionOf derives the lower-case extension without the dot
func ExtensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Clone returns a deep copy safe to hand across a store boundary
func (f File) Clone() File {
	f.CurrentVersionID = cloneStringPtr(f.CurrentVersionID)
	f.CheckedOutBy = cloneStringPtr(f.CheckedOutBy)
	f.CheckedOutAt = cloneTimePtr(f.CheckedOutAt)
	f.ExpectedCheckinAt = cloneTimePtr(f.ExpectedCheckinAt)
	f.LastAccessedAt = cloneTimePtr(f.LastAccessedAt)
	f.LastAccessedBy = cloneStringPtr(f.LastAccessedBy)
	f.Tags = cloneStrings(f.Tags)
	f.Metadata = cloneMetadata(f.Metadata)
	f.Audit = f.Audit.clone()
	return f
}

// CounterDelta describes an atomic counter bump on a file
type CounterDelta struct {
	Downloads int64
	Views     int64
	Shares    int64
	// AccessedBy stamps last-access when non-nil
	AccessedBy *string
}
