package vault

// PathSeparator joins folder names into a materialized path
const PathSeparator = "/"

// Folder is a node of a project's folder forest. Path and Depth are
// denormalized from the ancestry and rewritten on every rename or move.
type Folder struct {
	ID          string         `json:"id" db:"id"`
	ProjectID   string         `json:"project_id" db:"project_id"`
	ParentID    *string        `json:"parent_id" db:"parent_id"` // NULL = root
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Path        string         `json:"path" db:"path"`
	Depth       int            `json:"depth" db:"depth"`
	SortOrder   int            `json:"sort_order" db:"sort_order"`
	Active      bool           `json:"active" db:"active"`
	Public      bool           `json:"public" db:"public"`
	ReadOnly    bool           `json:"read_only" db:"read_only"`
	Tags        []string       `json:"tags" db:"tags"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	Audit
}

// IsRoot reports whether the folder has no parent
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// IsVisible is the active-view predicate applied by every read path
func (f *Folder) IsVisible() bool {
	return f.Active && !f.Deleted
}

// Place derives path and depth from the parent (nil for a root)
func (f *Folder) Place(parent *Folder) {
	if parent == nil {
		f.ParentID = nil
		f.Depth = 0
		f.Path = f.Name
		return
	}
	id := parent.ID
	f.ParentID = &id
	f.Depth = parent.Depth + 1
	f.Path = ChildPath(parent.Path, f.Name)
}

// ChildPath joins a parent path and a child name
func ChildPath(parentPath, name string) string {
	return parentPath + PathSeparator + name
}

// Clone returns a deep copy safe to hand across a store boundary
func (f Folder) Clone() Folder {
	if f.ParentID != nil {
		p := *f.ParentID
		f.ParentID = &p
	}
	f.Tags = cloneStrings(f.Tags)
	f.Metadata = cloneMetadata(f.Metadata)
	f.Audit = f.Audit.clone()
	return f
}
