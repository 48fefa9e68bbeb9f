package registry

import "strings"

// Singularize converts a plural resource segment to its singular form
// using the same rules Phoenix applies when deriving helper names:
// -ies becomes y, -ses/-xes/-zes drop the es, and a trailing s drops
// unless the word ends in ss.
func Singularize(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ses"), strings.HasSuffix(word, "xes"), strings.HasSuffix(word, "zes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ss"):
		return word
	case strings.HasSuffix(word, "s") && len(word) > 1:
		return word[:len(word)-1]
	default:
		return word
	}
}

// helperSegment normalizes one path segment for helper naming:
// lowercase, drop everything outside [a-z0-9_], then singularize.
func helperSegment(segment string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(segment) {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return Singularize(b.String())
}

// HelperBase derives a route helper base from a path. Parameter and
// wildcard segments are skipped; the literal segments are normalized,
// singularized, and joined with underscores. A path with no literal
// segments gets the helper "root".
func HelperBase(path string) string {
	var parts []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "*") {
			continue
		}
		if s := helperSegment(seg); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "root"
	}
	return strings.Join(parts, "_")
}
