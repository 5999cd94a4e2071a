package vault

// ChangeType classifies why a version was appended
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeUpdate  ChangeType = "update"
	ChangeReplace ChangeType = "replace"
	ChangeRename  ChangeType = "rename"
	ChangeRestore ChangeType = "restore"
	ChangeMinor   ChangeType = "minor"
)

// Valid reports whether c is a known change type
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeCreate, ChangeUpdate, ChangeReplace, ChangeRename, ChangeRestore, ChangeMinor:
		return true
	}
	return false
}

// FileVersion is one entry of a file's append-only version ledger
type FileVersion struct {
	ID             string     `json:"id" db:"id"`
	FileID         string     `json:"file_id" db:"file_id"`
	VersionNumber  int        `json:"version_number" db:"version_number"`
	Label          string     `json:"label" db:"label"`
	ChangeType     ChangeType `json:"change_type" db:"change_type"`
	Size           int64      `json:"size" db:"size"`
	Hash           string     `json:"hash" db:"hash"`
	StorageLocator string     `json:"storage_locator" db:"storage_locator"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	IsCurrent      bool       `json:"is_current" db:"is_current"`
	Audit
}

// Clone returns a deep copy safe to hand across a store boundary
func (v FileVersion) Clone() FileVersion {
	v.Audit = v.Audit.clone()
	return v
}
