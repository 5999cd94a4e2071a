package vault

import (
	"fmt"
	"strings"
	"time"
)

// Capability is a bitset of operations a grant or share allows
type Capability uint16

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapDelete
	CapShare
	CapManagePermissions
	CapDownload
	CapPrint
	CapComment
	CapCheckout
	CapApprove

	CapNone Capability = 0
	CapAll             = CapRead | CapWrite | CapDelete | CapShare | CapManagePermissions |
		CapDownload | CapPrint | CapComment | CapCheckout | CapApprove
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapRead, "read"},
	{CapWrite, "write"},
	{CapDelete, "delete"},
	{CapShare, "share"},
	{CapManagePermissions, "manage_permissions"},
	{CapDownload, "download"},
	{CapPrint, "print"},
	{CapComment, "comment"},
	{CapCheckout, "checkout"},
	{CapApprove, "approve"},
}

// Has reports whether every bit of want is set
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Valid reports whether c only uses known bits
func (c Capability) Valid() bool {
	return c&^CapAll == 0
}

// Names lists the set bits in declaration order
func (c Capability) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if c&cn.cap != 0 {
			names = append(names, cn.name)
		}
	}
	return names
}

func (c Capability) String() string {
	if c == CapNone {
		return "none"
	}
	return strings.Join(c.Names(), ",")
}

// ParseCapabilities converts capability names into a bitset
func ParseCapabilities(names []string) (Capability, error) {
	var out Capability
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, cn := range capabilityNames {
			if cn.name == name {
				out |= cn.cap
				found = true
				break
			}
		}
		if !found {
			return CapNone, fmt.Errorf("unknown capability %q", raw)
		}
	}
	return out, nil
}

// Level is the coarse access level derived from a capability set
type Level int

const (
	LevelNone Level = iota
	LevelReader
	LevelReviewer
	LevelEditor
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelOwner:
		return "owner"
	case LevelEditor:
		return "editor"
	case LevelReviewer:
		return "reviewer"
	case LevelReader:
		return "reader"
	default:
		return "none"
	}
}

// LevelFor applies the fixed precedence Owner > Editor > Reviewer > Reader > None
func LevelFor(c Capability) Level {
	switch {
	case c.Has(CapManagePermissions | CapDelete):
		return LevelOwner
	case c.Has(CapWrite | CapCheckout):
		return LevelEditor
	case c.Has(CapComment | CapApprove):
		return LevelReviewer
	case c.Has(CapRead):
		return LevelReader
	default:
		return LevelNone
	}
}

// SubjectKind distinguishes user, role and public grants
type SubjectKind string

const (
	SubjectUser   SubjectKind = "user"
	SubjectRole   SubjectKind = "role"
	SubjectPublic SubjectKind = "public"
)

// Subject is exactly one of a user id, a role name or the public
type Subject struct {
	Kind SubjectKind `json:"kind" db:"subject_kind"`
	ID   string      `json:"id,omitempty" db:"subject_id"`
}

func UserSubject(userID string) Subject { return Subject{Kind: SubjectUser, ID: userID} }
func RoleSubject(role string) Subject   { return Subject{Kind: SubjectRole, ID: role} }
func PublicSubject() Subject            { return Subject{Kind: SubjectPublic} }

// Key is the stable lookup key for the subject, e.g. "user:7" or "public"
func (s Subject) Key() string {
	if s.Kind == SubjectPublic {
		return string(SubjectPublic)
	}
	return string(s.Kind) + ":" + s.ID
}

func (s Subject) String() string { return s.Key() }

// Validate checks that exactly one subject form is populated
func (s Subject) Validate() error {
	switch s.Kind {
	case SubjectUser, SubjectRole:
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("%s subject requires an id", s.Kind)
		}
	case SubjectPublic:
		if s.ID != "" {
			return fmt.Errorf("public subject must not carry an id")
		}
	default:
		return fmt.Errorf("unknown subject kind %q", s.Kind)
	}
	return nil
}

// ParseSubjectKey reverses Subject.Key
func ParseSubjectKey(key string) (Subject, error) {
	if key == string(SubjectPublic) {
		return PublicSubject(), nil
	}
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Subject{}, fmt.Errorf("malformed subject key %q", key)
	}
	s := Subject{Kind: SubjectKind(kind), ID: id}
	if err := s.Validate(); err != nil {
		return Subject{}, err
	}
	return s, nil
}

// FilePermission is a per-subject capability grant on a file.
// At most one active row exists per (FileID, Subject).
type FilePermission struct {
	ID           string     `json:"id" db:"id"`
	FileID       string     `json:"file_id" db:"file_id"`
	Subject      Subject    `json:"subject"`
	Capabilities Capability `json:"capabilities" db:"capabilities"`
	Active       bool       `json:"active" db:"active"`
	GrantedBy    string     `json:"granted_by" db:"granted_by"`
	GrantedAt    time.Time  `json:"granted_at" db:"granted_at"`
	RevokedBy    *string    `json:"revoked_by,omitempty" db:"revoked_by"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokeReason *string    `json:"revoke_reason,omitempty" db:"revoke_reason"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	Audit
}

func (p *FilePermission) IsRevoked() bool {
	return p.RevokedAt != nil
}

// IsExpired is true once now reaches ExpiresAt
func (p *FilePermission) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// IsEffective is active, not soft-deleted, not expired and not revoked
func (p *FilePermission) IsEffective(now time.Time) bool {
	return p.Active && !p.Deleted && !p.IsExpired(now) && !p.IsRevoked()
}

// EffectiveCapabilities returns the bitset if the row is effective, else none
func (p *FilePermission) EffectiveCapabilities(now time.Time) Capability {
	if !p.IsEffective(now) {
		return CapNone
	}
	return p.Capabilities
}

// EffectiveLevel derives the access level, None unless effective
func (p *FilePermission) EffectiveLevel(now time.Time) Level {
	return LevelFor(p.EffectiveCapabilities(now))
}

// HasPermission checks a single capability against the effective set
func (p *FilePermission) HasPermission(c Capability, now time.Time) bool {
	return p.EffectiveCapabilities(now).Has(c)
}

// Clone returns a deep copy safe to hand across a store boundary
func (p FilePermission) Clone() FilePermission {
	p.RevokedBy = cloneStringPtr(p.RevokedBy)
	p.RevokedAt = cloneTimePtr(p.RevokedAt)
	p.RevokeReason = cloneStringPtr(p.RevokeReason)
	p.ExpiresAt = cloneTimePtr(p.ExpiresAt)
	p.Audit = p.Audit.clone()
	return p
}
