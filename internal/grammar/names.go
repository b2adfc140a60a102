package grammar

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

func isNameStart(r rune) bool {
	return r == ':' || r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return isNameStart(r) || r == '-' || r == '.' || unicode.IsDigit(r) ||
		r == 0xB7 || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}

// IsName reports whether s is an XML Name.
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isNameStart(r) {
			return false
		}
		if !isNameChar(r) {
			return false
		}
	}
	return true
}

// IsNmtoken reports whether s is an XML Nmtoken.
func IsNmtoken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isNameChar(r) {
			return false
		}
	}
	return true
}

// scanName returns the length in bytes of the Name at the start of s.
func scanName(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if n == 0 && !isNameStart(r) {
			return 0
		}
		if !isNameChar(r) {
			break
		}
		n += size
	}
	return n
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// IsWhitespace reports whether s consists only of XML whitespace.
func IsWhitespace(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isSpace(s[i]) {
			return false
		}
	}
	return true
}

// normalizeValue applies attribute-value normalization: whitespace
// characters become spaces and tokenized types are collapsed and trimmed.
func normalizeValue(v string, tokenized bool) string {
	v = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, v)
	if tokenized {
		v = strings.Join(strings.Fields(v), " ")
	}
	return v
}

func (t AttrType) tokenized() bool {
	return t != TypeCDATA
}

var predefined = map[string]string{
	"lt":   "<",
	"gt":   ">",
	"amp":  "&",
	"apos": "'",
	"quot": `"`,
}

// expandCharRefs replaces character references. When predef is set the five
// predefined entities are replaced too; other entity references are kept.
func expandCharRefs(s string, predef bool) (string, error) {
	if !strings.Contains(s, "&") {
		return s, nil
	}
	var sb strings.Builder
	for {
		i := strings.IndexByte(s, '&')
		if i < 0 {
			sb.WriteString(s)
			return sb.String(), nil
		}
		sb.WriteString(s[:i])
		s = s[i:]
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return "", fmt.Errorf("unterminated reference in %q", s)
		}
		ref := s[1:end]
		switch {
		case strings.HasPrefix(ref, "#"):
			r, err := parseCharRef(ref[1:])
			if err != nil {
				return "", err
			}
			sb.WriteRune(r)
		case predef && predefined[ref] != "":
			sb.WriteString(predefined[ref])
		default:
			sb.WriteString(s[:end+1])
		}
		s = s[end+1:]
	}
}

func parseCharRef(ref string) (rune, error) {
	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(ref, "x") {
		n, err = strconv.ParseUint(ref[1:], 16, 32)
	} else {
		n, err = strconv.ParseUint(ref, 10, 32)
	}
	if err != nil || !isXMLChar(rune(n)) {
		return 0, fmt.Errorf("invalid character reference &#%s;", ref)
	}
	return rune(n), nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
