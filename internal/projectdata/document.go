// Package projectdata fetches project metadata from an external URL: a GitHub
// repository, a git remote, a JSON document or an HTML page.
package projectdata

import "strings"

// Document is the external view of a project. A nil field means the source
// did not provide it.
type Document struct {
	Name        *string
	Summary     *string
	Description *string
	HomepageURL *string
	ContactURL  *string
	SourceURL   *string
	ImageURL    *string
}

// HasName reports whether the source provided a name field at all. A blank
// name still counts: the document is usable and Merge skips the blank value.
func (d Document) HasName() bool {
	return d.Name != nil
}

// fill sets *dst to value unless dst already holds a non-blank value or value
// is blank.
func fill(dst **string, value string) {
	value = strings.TrimSpace(value)
	if (*dst != nil && **dst != "") || value == "" {
		return
	}
	*dst = &value
}

// String returns a pointer to s. Convenience for building documents in callers.
func String(s string) *string {
	return &s
}
