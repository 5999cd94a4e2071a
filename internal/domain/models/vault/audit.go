package vault

import "time"

// Audit carries the bookkeeping fields every persisted entity shares.
// Version is the optimistic-concurrency counter: repositories compare it on
// update and increment it on success.
type Audit struct {
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CreatedBy    string     `json:"created_by" db:"created_by"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	UpdatedBy    string     `json:"updated_by" db:"updated_by"`
	Deleted      bool       `json:"deleted" db:"deleted"`
	DeletedBy    *string    `json:"deleted_by,omitempty" db:"deleted_by"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	DeleteReason *string    `json:"delete_reason,omitempty" db:"delete_reason"`
	Version      int64      `json:"version" db:"version"`
}

// NewAudit stamps creation fields for a new entity
func NewAudit(actor string, now time.Time) Audit {
	return Audit{
		CreatedAt: now,
		CreatedBy: actor,
		UpdatedAt: now,
		UpdatedBy: actor,
		Version:   1,
	}
}

// Touch records a modification
func (a *Audit) Touch(actor string, now time.Time) {
	a.UpdatedAt = now
	a.UpdatedBy = actor
}

// MarkDeleted soft-deletes the entity. Nothing is physically removed.
func (a *Audit) MarkDeleted(actor, reason string, now time.Time) {
	a.Deleted = true
	a.DeletedBy = &actor
	a.DeletedAt = &now
	if reason != "" {
		a.DeleteReason = &reason
	} else {
		a.DeleteReason = nil
	}
	a.Touch(actor, now)
}

// ClearDeleted reverses MarkDeleted
func (a *Audit) ClearDeleted(actor string, now time.Time) {
	a.Deleted = false
	a.DeletedBy = nil
	a.DeletedAt = nil
	a.DeleteReason = nil
	a.Touch(actor, now)
}
