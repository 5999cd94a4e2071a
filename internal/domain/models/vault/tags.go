package vault

import (
	"sort"
	"strings"
)

// TagSeparator is used by ParseTags and FormatTags
const TagSeparator = ","

// NormalizeTags trims each tag, drops empties and de-duplicates
// case-insensitively keeping the first spelling. The result is sorted
// case-insensitively, so normalizing twice yields the same slice.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// ParseTags splits a comma-separated tag string and normalizes it
func ParseTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return NormalizeTags(strings.Split(s, TagSeparator))
}

// FormatTags normalizes and joins tags into their stored string form
func FormatTags(tags []string) string {
	return strings.Join(NormalizeTags(tags), TagSeparator)
}

// TagsEqual compares two tag lists ignoring order and case
func TagsEqual(a, b []string) bool {
	na, nb := NormalizeTags(a), NormalizeTags(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if !strings.EqualFold(na[i], nb[i]) {
			return false
		}
	}
	return true
}
