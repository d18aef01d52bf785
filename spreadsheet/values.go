// Package spreadsheet reads tabular metadata for import jobs. Headers are
// resolved against a content model's header map, cells are parsed into
// typed RDF terms, and the FILES / ITEM_FILES / INDEX columns get their own
// structured parsers.
package spreadsheet

import "strings"

// MetadataError marks a row-level parsing failure. Rows carrying one
// become invalid rows and are never written to the repository.
type MetadataError struct {
	Reason string
}

func (e *MetadataError) Error() string {
	return e.Reason
}

// splitEscaped splits s on sep, honoring backslash escapes of the pipe and
// semicolon delimiters. Empty segments are dropped; surrounding whitespace
// is trimmed.
func splitEscaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			if c != '|' && c != ';' && c != '\\' {
				cur.WriteByte('\\')
			}
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			if v := strings.TrimSpace(cur.String()); v != "" {
				out = append(out, v)
			}
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	if v := strings.TrimSpace(cur.String()); v != "" {
		out = append(out, v)
	}
	return out
}

// escapeValue escapes the pipe and semicolon delimiters in a single value.
func escapeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, ";", `\;`)
	return s
}

// ParseValueString splits a multi-valued cell on unescaped pipes. The
// empty string yields no values; empty segments are dropped.
func ParseValueString(s string) []string {
	if s == "" {
		return nil
	}
	return splitEscaped(s, '|')
}

// SerializeValues joins values into a multi-valued cell, escaping
// delimiters.
func SerializeValues(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = escapeValue(v)
	}
	return strings.Join(escaped, "|")
}

// splitGroups splits a FILES or ITEM_FILES cell on unescaped semicolons.
func splitGroups(s string) []string {
	if s == "" {
		return nil
	}
	return splitEscaped(s, ';')
}
