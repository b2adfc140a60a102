package grammar

import (
	"fmt"
	"regexp"
	"strings"
)

// Children content models are compiled to regular expressions over the
// sequence of child element names, each name written as "<name>".

func compileChildren(spec string) (*regexp.Regexp, error) {
	p := &modelParser{s: spec}
	frag, err := p.particle()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("unexpected %q after content model", p.s[p.pos:])
	}
	re, err := regexp.Compile("^" + frag + "$")
	if err != nil {
		return nil, fmt.Errorf("compile content model %s: %w", spec, err)
	}
	return re, nil
}

func parseMixed(spec string) ([]string, error) {
	p := &modelParser{s: spec}
	p.skipSpace()
	if !p.consume("(") {
		return nil, fmt.Errorf("mixed content must start with '('")
	}
	p.skipSpace()
	if !p.consume("#PCDATA") {
		return nil, fmt.Errorf("mixed content must start with #PCDATA")
	}
	var names []string
	for {
		p.skipSpace()
		if p.consume(")") {
			break
		}
		if !p.consume("|") {
			return nil, fmt.Errorf("expected '|' or ')' in mixed content %s", spec)
		}
		p.skipSpace()
		n := scanName(p.s[p.pos:])
		if n == 0 {
			return nil, fmt.Errorf("expected element name in mixed content %s", spec)
		}
		names = append(names, p.s[p.pos:p.pos+n])
		p.pos += n
	}
	star := p.consume("*")
	if len(names) > 0 && !star {
		return nil, fmt.Errorf("mixed content with element types must end in ')*': %s", spec)
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("unexpected %q after mixed content", p.s[p.pos:])
	}
	return names, nil
}

type modelParser struct {
	s   string
	pos int
}

func (p *modelParser) skipSpace() {
	for p.pos < len(p.s) && isSpace(p.s[p.pos]) {
		p.pos++
	}
}

func (p *modelParser) consume(tok string) bool {
	if strings.HasPrefix(p.s[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *modelParser) particle() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return "", fmt.Errorf("unexpected end of content model")
	}

	var frag string
	if p.consume("(") {
		var (
			items []string
			sep   byte
		)
		for {
			item, err := p.particle()
			if err != nil {
				return "", err
			}
			items = append(items, item)
			p.skipSpace()
			if p.pos >= len(p.s) {
				return "", fmt.Errorf("unterminated group in content model")
			}
			c := p.s[p.pos]
			p.pos++
			if c == ')' {
				break
			}
			if c != ',' && c != '|' {
				return "", fmt.Errorf("unexpected %q in content model", c)
			}
			if sep != 0 && sep != c {
				return "", fmt.Errorf("mixed ',' and '|' in one group")
			}
			sep = c
		}
		if sep == '|' {
			frag = "(?:" + strings.Join(items, "|") + ")"
		} else {
			frag = "(?:" + strings.Join(items, "") + ")"
		}
	} else {
		n := scanName(p.s[p.pos:])
		if n == 0 {
			return "", fmt.Errorf("expected element name at %q", p.s[p.pos:])
		}
		frag = "(?:<" + regexp.QuoteMeta(p.s[p.pos:p.pos+n]) + ">)"
		p.pos += n
	}

	if p.pos < len(p.s) {
		switch c := p.s[p.pos]; c {
		case '?', '*', '+':
			frag += string(c)
			p.pos++
		}
	}
	return frag, nil
}

// matches reports whether the child element sequence satisfies the declaration.
func (e *ElementDecl) matches(children []string) bool {
	switch e.Kind {
	case ContentAny:
		return true
	case ContentEmpty:
		return len(children) == 0
	case ContentMixed:
		for _, c := range children {
			if !contains(e.Mixed, c) {
				return false
			}
		}
		return true
	}
	var sb strings.Builder
	for _, c := range children {
		sb.WriteByte('<')
		sb.WriteString(c)
		sb.WriteByte('>')
	}
	return e.re.MatchString(sb.String())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
