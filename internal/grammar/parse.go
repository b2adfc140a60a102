package grammar

import (
	"errors"
	"fmt"
	"strings"
)

// Fetch loads an external entity or subset. It returns the content and the
// system id it was loaded from, which is the base for relative references
// inside it.
type Fetch func(publicID, systemID, base string) ([]byte, string, error)

const maxEntityDepth = 32

var errNoFetch = errors.New("no entity resolver configured")

// Load builds the grammar for a document type declaration. The internal
// subset is processed before the external one, so its declarations win.
func Load(name, publicID, systemID, internalSubset, base string, fetch Fetch) (*DTD, error) {
	d := newDTD(name, publicID, systemID)
	p := &declParser{dtd: d, fetch: fetch, active: make(map[string]bool)}

	if err := p.parse(internalSubset, base, false, 0); err != nil {
		return nil, fmt.Errorf("internal subset: %w", err)
	}
	if systemID == "" {
		return d, nil
	}
	if fetch == nil {
		return nil, fmt.Errorf("external subset %s: %w", systemID, errNoFetch)
	}
	content, resolved, err := fetch(publicID, systemID, base)
	if err != nil {
		return nil, fmt.Errorf("external subset %s: %w", systemID, err)
	}
	if err := p.parse(stripTextDecl(string(content)), resolved, true, 0); err != nil {
		return nil, fmt.Errorf("external subset %s: %w", resolved, err)
	}
	return d, nil
}

// Parse builds a grammar from declarations alone, without external resources.
func Parse(name, declarations string) (*DTD, error) {
	return Load(name, "", "", declarations, "", nil)
}

// Text returns the replacement text of the entity, loading an external
// entity through fetch on first use, and the base for references inside it.
func (e *Entity) Text(fetch Fetch) (string, string, error) {
	if e.loaded || !e.External() {
		return e.Value, e.Base, nil
	}
	if e.Notation != "" {
		return "", "", fmt.Errorf("reference to unparsed entity %s", e.Name)
	}
	if fetch == nil {
		return "", "", fmt.Errorf("entity %s: %w", e.Name, errNoFetch)
	}
	content, resolved, err := fetch(e.PublicID, e.SystemID, e.Base)
	if err != nil {
		return "", "", fmt.Errorf("entity %s (%s): %w", e.Name, e.SystemID, err)
	}
	e.Value = stripTextDecl(string(content))
	e.Base = resolved
	e.loaded = true
	return e.Value, e.Base, nil
}

func stripTextDecl(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	if strings.HasPrefix(s, "<?xml") && len(s) > 5 && isSpace(s[5]) {
		if end := strings.Index(s, "?>"); end >= 0 {
			return s[end+2:]
		}
	}
	return s
}

type declParser struct {
	dtd    *DTD
	fetch  Fetch
	active map[string]bool // parameter entities being expanded
}

func (p *declParser) parse(s, base string, external bool, depth int) error {
	if depth > maxEntityDepth {
		return fmt.Errorf("parameter entity nesting exceeds %d", maxEntityDepth)
	}
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return nil
		}
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest[4:], "-->")
			if end < 0 {
				return fmt.Errorf("unterminated comment")
			}
			i += 4 + end + 3

		case strings.HasPrefix(rest, "<?"):
			end := strings.Index(rest, "?>")
			if end < 0 {
				return fmt.Errorf("unterminated processing instruction")
			}
			i += end + 2

		case strings.HasPrefix(rest, "<!["):
			if !external {
				return fmt.Errorf("conditional sections are only allowed in the external subset")
			}
			n, err := p.conditional(rest, base, depth)
			if err != nil {
				return err
			}
			i += n

		case rest[0] == '%':
			n := scanName(rest[1:])
			if n == 0 || len(rest) <= n+1 || rest[n+1] != ';' {
				return fmt.Errorf("malformed parameter entity reference near %q", snippet(rest))
			}
			name := rest[1 : n+1]
			err := p.withParam(name, func(text, ebase string, ext bool) error {
				return p.parse(text, ebase, external || ext, depth+1)
			})
			if err != nil {
				return err
			}
			i += n + 2

		case strings.HasPrefix(rest, "<!"):
			end := declEnd(rest)
			if end < 0 {
				return fmt.Errorf("unterminated markup declaration near %q", snippet(rest))
			}
			if err := p.declaration(rest[2:end], base, depth); err != nil {
				return err
			}
			i += end + 1

		default:
			return fmt.Errorf("unexpected %q in document type declaration", snippet(rest))
		}
	}
}

// conditional handles an INCLUDE or IGNORE section and returns the number of
// bytes consumed.
func (p *declParser) conditional(s, base string, depth int) (int, error) {
	open := strings.IndexByte(s[3:], '[')
	if open < 0 {
		return 0, fmt.Errorf("malformed conditional section near %q", snippet(s))
	}
	open += 3
	kw, err := p.expandPE(s[3:open], false, depth)
	if err != nil {
		return 0, err
	}

	// Find the matching "]]>", allowing nested sections.
	level := 1
	j := open + 1
	for level > 0 {
		next := strings.Index(s[j:], "]]>")
		if next < 0 {
			return 0, fmt.Errorf("unterminated conditional section")
		}
		nested := strings.Index(s[j:], "<![")
		if nested >= 0 && nested < next {
			level++
			j += nested + 3
			continue
		}
		level--
		j += next + 3
	}
	body := s[open+1 : j-3]

	switch strings.TrimSpace(kw) {
	case "INCLUDE":
		if err := p.parse(body, base, true, depth+1); err != nil {
			return 0, err
		}
	case "IGNORE":
	default:
		return 0, fmt.Errorf("unknown conditional section keyword %q", strings.TrimSpace(kw))
	}
	return j, nil
}

func (p *declParser) withParam(name string, fn func(text, base string, external bool) error) error {
	ent := p.dtd.params[name]
	if ent == nil {
		return fmt.Errorf("parameter entity %%%s; is not declared", name)
	}
	if p.active[name] {
		return fmt.Errorf("recursive parameter entity reference %%%s;", name)
	}
	text, base, err := ent.Text(p.fetch)
	if err != nil {
		return err
	}
	p.active[name] = true
	defer delete(p.active, name)
	return fn(text, base, ent.External())
}

// expandPE replaces parameter entity references. Quoted literals are left
// alone unless literals is set, as it is for entity values.
func (p *declParser) expandPE(s string, literals bool, depth int) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	if depth > maxEntityDepth {
		return "", fmt.Errorf("parameter entity nesting exceeds %d", maxEntityDepth)
	}
	var (
		sb    strings.Builder
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !literals {
			if quote != 0 {
				if c == quote {
					quote = 0
				}
				sb.WriteByte(c)
				continue
			}
			if c == '"' || c == '\'' {
				quote = c
				sb.WriteByte(c)
				continue
			}
		}
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		n := scanName(s[i+1:])
		if n == 0 {
			sb.WriteByte(c)
			continue
		}
		if i+1+n >= len(s) || s[i+1+n] != ';' {
			return "", fmt.Errorf("malformed parameter entity reference near %q", snippet(s[i:]))
		}
		name := s[i+1 : i+1+n]
		err := p.withParam(name, func(text, _ string, _ bool) error {
			expanded, err := p.expandPE(text, literals, depth+1)
			if err != nil {
				return err
			}
			if !literals {
				sb.WriteByte(' ')
			}
			sb.WriteString(expanded)
			if !literals {
				sb.WriteByte(' ')
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		i += n + 1
	}
	return sb.String(), nil
}

func (p *declParser) declaration(decl, base string, depth int) error {
	kw, rest := decl, ""
	if i := strings.IndexAny(decl, " \t\r\n"); i >= 0 {
		kw, rest = decl[:i], decl[i:]
	}
	switch kw {
	case "ELEMENT":
		body, err := p.expandPE(rest, false, depth)
		if err != nil {
			return err
		}
		return p.elementDecl(body)
	case "ATTLIST":
		body, err := p.expandPE(rest, false, depth)
		if err != nil {
			return err
		}
		return p.attlistDecl(body)
	case "ENTITY":
		return p.entityDecl(rest, base, depth)
	case "NOTATION":
		return nil
	default:
		return fmt.Errorf("unknown markup declaration <!%s", kw)
	}
}

func (p *declParser) elementDecl(body string) error {
	sc := &declScanner{s: body}
	sc.skipSpace()
	name := sc.name()
	if name == "" {
		return fmt.Errorf("element declaration without a name: %q", snippet(body))
	}
	spec := strings.TrimSpace(sc.rest())
	decl := &ElementDecl{Name: name, Model: strings.Join(strings.Fields(spec), "")}

	switch {
	case spec == "EMPTY":
		decl.Kind = ContentEmpty
	case spec == "ANY":
		decl.Kind = ContentAny
	case strings.HasPrefix(spec, "(") && strings.HasPrefix(strings.TrimLeft(spec[1:], " \t\r\n"), "#PCDATA"):
		names, err := parseMixed(spec)
		if err != nil {
			return fmt.Errorf("element %s: %w", name, err)
		}
		decl.Kind = ContentMixed
		decl.Mixed = names
	case strings.HasPrefix(spec, "("):
		re, err := compileChildren(spec)
		if err != nil {
			return fmt.Errorf("element %s: %w", name, err)
		}
		decl.Kind = ContentChildren
		decl.re = re
	default:
		return fmt.Errorf("element %s: invalid content specification %q", name, spec)
	}

	if _, dup := p.dtd.elements[name]; !dup {
		p.dtd.elements[name] = decl
	}
	return nil
}

func (p *declParser) attlistDecl(body string) error {
	sc := &declScanner{s: body}
	sc.skipSpace()
	elem := sc.name()
	if elem == "" {
		return fmt.Errorf("attribute list declaration without an element name")
	}
	for {
		sc.skipSpace()
		if sc.done() {
			return nil
		}
		a := &AttrDecl{Element: elem, Name: sc.name()}
		if a.Name == "" {
			return fmt.Errorf("attlist %s: expected attribute name near %q", elem, snippet(sc.rest()))
		}
		sc.skipSpace()

		if sc.peek() == '(' {
			grp, err := sc.group()
			if err != nil {
				return fmt.Errorf("attlist %s: %w", elem, err)
			}
			a.Type, a.Enum = TypeEnumeration, splitEnum(grp)
		} else {
			tname := sc.name()
			if tname == "NOTATION" {
				sc.skipSpace()
				grp, err := sc.group()
				if err != nil {
					return fmt.Errorf("attlist %s: %w", elem, err)
				}
				a.Type, a.Enum = TypeNotation, splitEnum(grp)
			} else {
				t, ok := attrTypeNames[tname]
				if !ok {
					return fmt.Errorf("attlist %s: unknown attribute type %q for %s", elem, tname, a.Name)
				}
				a.Type = t
			}
		}
		sc.skipSpace()

		var (
			raw string
			err error
		)
		switch {
		case sc.consume("#REQUIRED"):
			a.Default = DefaultRequired
		case sc.consume("#IMPLIED"):
			a.Default = DefaultImplied
		case sc.consume("#FIXED"):
			sc.skipSpace()
			a.Default = DefaultFixed
			raw, err = sc.quoted()
		default:
			a.Default = DefaultValue
			raw, err = sc.quoted()
		}
		if err != nil {
			return fmt.Errorf("attlist %s: attribute %s: %w", elem, a.Name, err)
		}
		if a.HasDefault() {
			v, err := expandCharRefs(raw, true)
			if err != nil {
				return fmt.Errorf("attlist %s: attribute %s: %w", elem, a.Name, err)
			}
			a.Value = normalizeValue(v, a.Type.tokenized())
		}

		if p.dtd.Attribute(elem, a.Name) == nil {
			p.dtd.attrs[elem] = append(p.dtd.attrs[elem], a)
		}
	}
}

func (p *declParser) entityDecl(rest, base string, depth int) error {
	body, err := p.expandPE(rest, false, depth)
	if err != nil {
		return err
	}
	sc := &declScanner{s: body}
	sc.skipSpace()

	e := &Entity{Base: base}
	if sc.peek() == '%' {
		sc.pos++
		e.Parameter = true
		sc.skipSpace()
	}
	e.Name = sc.name()
	if e.Name == "" {
		return fmt.Errorf("entity declaration without a name: %q", snippet(body))
	}
	sc.skipSpace()

	if q := sc.peek(); q == '"' || q == '\'' {
		lit, err := sc.quoted()
		if err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
		v, err := p.expandPE(lit, true, depth)
		if err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
		if e.Value, err = expandCharRefs(v, false); err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
		e.loaded = true
	} else {
		switch sc.name() {
		case "SYSTEM":
			sc.skipSpace()
			e.SystemID, err = sc.quoted()
		case "PUBLIC":
			sc.skipSpace()
			if e.PublicID, err = sc.quoted(); err == nil {
				sc.skipSpace()
				e.SystemID, err = sc.quoted()
			}
		default:
			return fmt.Errorf("entity %s: expected literal value or external id", e.Name)
		}
		if err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
		sc.skipSpace()
		if sc.consume("NDATA") {
			if e.Parameter {
				return fmt.Errorf("parameter entity %s cannot be unparsed", e.Name)
			}
			sc.skipSpace()
			e.Notation = sc.name()
		}
	}

	table := p.dtd.entities
	if e.Parameter {
		table = p.dtd.params
	}
	if _, dup := table[e.Name]; !dup {
		table[e.Name] = e
	}
	return nil
}

func splitEnum(grp string) []string {
	grp = strings.TrimSuffix(strings.TrimPrefix(grp, "("), ")")
	parts := strings.Split(grp, "|")
	out := make([]string, 0, len(parts))
	for _, v := range parts {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// declEnd returns the index of the '>' closing the declaration at the start
// of s, skipping quoted literals.
func declEnd(s string) int {
	var quote byte
	for i := 2; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}

func snippet(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

type declScanner struct {
	s   string
	pos int
}

func (sc *declScanner) skipSpace() {
	for sc.pos < len(sc.s) && isSpace(sc.s[sc.pos]) {
		sc.pos++
	}
}

func (sc *declScanner) done() bool { return sc.pos >= len(sc.s) }

func (sc *declScanner) rest() string { return sc.s[sc.pos:] }

func (sc *declScanner) peek() byte {
	if sc.done() {
		return 0
	}
	return sc.s[sc.pos]
}

func (sc *declScanner) consume(tok string) bool {
	if strings.HasPrefix(sc.s[sc.pos:], tok) {
		sc.pos += len(tok)
		return true
	}
	return false
}

func (sc *declScanner) name() string {
	n := scanName(sc.s[sc.pos:])
	name := sc.s[sc.pos : sc.pos+n]
	sc.pos += n
	return name
}

func (sc *declScanner) quoted() (string, error) {
	q := sc.peek()
	if q != '"' && q != '\'' {
		return "", fmt.Errorf("expected quoted literal near %q", snippet(sc.rest()))
	}
	end := strings.IndexByte(sc.s[sc.pos+1:], q)
	if end < 0 {
		return "", fmt.Errorf("unterminated literal")
	}
	v := sc.s[sc.pos+1 : sc.pos+1+end]
	sc.pos += end + 2
	return v, nil
}

func (sc *declScanner) group() (string, error) {
	if sc.peek() != '(' {
		return "", fmt.Errorf("expected '(' near %q", snippet(sc.rest()))
	}
	end := strings.IndexByte(sc.s[sc.pos:], ')')
	if end < 0 {
		return "", fmt.Errorf("unterminated group")
	}
	g := sc.s[sc.pos : sc.pos+end+1]
	sc.pos += end + 1
	return g, nil
}
