package parser

import (
	"fmt"
	"strings"

	"github.com/dgallion1/mapread/internal/doctree"
)

// parseDoctype splits the body of a <!DOCTYPE ...> directive into the
// declaration and its internal subset.
func parseDoctype(directive string) (*doctree.Doctype, string, error) {
	rest, ok := strings.CutPrefix(directive, "DOCTYPE")
	if !ok || rest == "" || !isSpace(rest[0]) {
		return nil, "", fmt.Errorf("unsupported markup declaration <!%s", truncate(directive))
	}
	rest = strings.TrimLeft(rest, " \t\r\n")

	end := strings.IndexAny(rest, " \t\r\n[")
	if end < 0 {
		end = len(rest)
	}
	dt := &doctree.Doctype{Name: rest[:end]}
	if dt.Name == "" {
		return nil, "", fmt.Errorf("document type declaration without a root element name")
	}
	rest = strings.TrimLeft(rest[end:], " \t\r\n")

	var err error
	switch {
	case strings.HasPrefix(rest, "PUBLIC"):
		rest = strings.TrimLeft(rest[len("PUBLIC"):], " \t\r\n")
		if dt.PublicID, rest, err = quoted(rest); err != nil {
			return nil, "", fmt.Errorf("doctype public id: %w", err)
		}
		rest = strings.TrimLeft(rest, " \t\r\n")
		if dt.SystemID, rest, err = quoted(rest); err != nil {
			return nil, "", fmt.Errorf("doctype system id: %w", err)
		}
	case strings.HasPrefix(rest, "SYSTEM"):
		rest = strings.TrimLeft(rest[len("SYSTEM"):], " \t\r\n")
		if dt.SystemID, rest, err = quoted(rest); err != nil {
			return nil, "", fmt.Errorf("doctype system id: %w", err)
		}
	}
	rest = strings.TrimSpace(rest)

	if rest == "" {
		return dt, "", nil
	}
	if rest[0] != '[' || rest[len(rest)-1] != ']' {
		return nil, "", fmt.Errorf("unexpected %q in document type declaration", truncate(rest))
	}
	return dt, rest[1 : len(rest)-1], nil
}

func quoted(s string) (string, string, error) {
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return "", s, fmt.Errorf("expected quoted literal")
	}
	end := strings.IndexByte(s[1:], s[0])
	if end < 0 {
		return "", s, fmt.Errorf("unterminated literal")
	}
	return s[1 : end+1], s[end+2:], nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
