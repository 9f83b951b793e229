// Package filter decides which schema objects qualify for export.
package filter

import (
	"strings"

	"github.com/sql2fs/sql2fs/internal/models"
)

// systemSchemas are never exported. Matched exactly.
var systemSchemas = []string{"INFORMATION_SCHEMA", "sys"}

// Accepts reports whether the object name.schema passes the prefix filters.
// Empty include lists impose no restriction.
func Accepts(name, schema string, f models.FilterConfig) bool {
	for _, s := range systemSchemas {
		if schema == s {
			return false
		}
	}

	if len(f.NameInclude) > 0 && !hasAnyPrefix(name, f.NameInclude) {
		return false
	}
	if len(f.NameExclude) > 0 && hasAnyPrefix(name, f.NameExclude) {
		return false
	}
	if len(f.SchemaInclude) > 0 && !hasAnyPrefix(schema, f.SchemaInclude) {
		return false
	}
	if len(f.SchemaExclude) > 0 && hasAnyPrefix(schema, f.SchemaExclude) {
		return false
	}

	return true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	upper := strings.ToUpper(s)
	for _, p := range prefixes {
		if strings.HasPrefix(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// ParseList splits a comma-separated prefix list, trimming blanks and dropping
// empty entries.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
