package vault

import (
	"maps"
	"slices"
	"time"
)

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt64Ptr(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func (a Audit) clone() Audit {
	a.DeletedBy = cloneStringPtr(a.DeletedBy)
	a.DeletedAt = cloneTimePtr(a.DeletedAt)
	a.DeleteReason = cloneStringPtr(a.DeleteReason)
	return a
}
