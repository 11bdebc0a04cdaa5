// Package textutil sanitizes recipe-supplied names for filesystem use.
//
// Stage and output identifiers come straight from user-authored recipes, so
// anything that becomes a path segment is normalized here first.
package textutil

import "strings"

// SanitizeToken converts a recipe identifier to a lowercase filesystem-safe
// token. Letters are lowercased, digits and hyphens/underscores are kept,
// everything else becomes an underscore. Returns "unnamed" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unnamed"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unnamed"
	}
	return out
}
