package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/dgallion1/mapread/internal/doctree"
	"github.com/dgallion1/mapread/internal/grammar"
)

const (
	maxEntitySize  = 8 << 20
	maxEntityDepth = 16

	nsXML   = "http://www.w3.org/XML/1998/namespace"
	nsXMLNS = "http://www.w3.org/2000/xmlns/"
)

// Entities whose replacement text contains markup are handed to the decoder
// as a private-use marker and expanded into the tree by the builder.
const (
	markOpen  = '\uE000'
	markClose = '\uE001'
)

var predefinedEntities = map[string]string{"lt": "<", "gt": ">", "amp": "&", "apos": "'", "quot": `"`}

type builder struct {
	resolver EntityResolver
	systemID string
	errs     *ErrorCollector

	doc      *doctree.Document
	dtd      *grammar.DTD
	val      *grammar.Validator
	entities map[string]string // decoder entity table
	active   map[string]bool   // general entities being expanded

	stack  []*doctree.Element
	scopes []map[string]string
	pos    grammar.Position
}

func newBuilder(resolver EntityResolver, systemID string, errs *ErrorCollector) *builder {
	return &builder{
		resolver: resolver,
		systemID: systemID,
		errs:     errs,
		doc:      &doctree.Document{SystemID: systemID},
		entities: make(map[string]string),
		active:   make(map[string]bool),
		scopes:   []map[string]string{{"xml": nsXML}},
	}
}

func (b *builder) newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = b.entities
	return dec
}

func (b *builder) fatalf(format string, args ...any) error {
	return &FatalError{
		SystemID: b.systemID,
		Line:     b.pos.Line,
		Column:   b.pos.Column,
		Err:      fmt.Errorf(format, args...),
	}
}

func (b *builder) run(r io.Reader) error {
	dec := b.newDecoder(r)
	if err := b.consume(dec, false); err != nil {
		return err
	}
	if len(b.stack) > 0 {
		return b.fatalf("element %q is not closed", b.stack[len(b.stack)-1].QName())
	}
	if b.val != nil {
		b.val.End()
	}
	return nil
}

// consume reads tokens until the decoder is exhausted or, for an entity
// fragment, until the wrapper element closes.
func (b *builder) consume(dec *xml.Decoder, fragment bool) error {
	base := len(b.stack)
	wrapped := false
	for {
		if !fragment {
			line, col := dec.InputPos()
			b.pos = grammar.Position{Line: line, Column: col}
		}
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			if fragment {
				return b.fatalf("entity replacement text is not well-formed")
			}
			return nil
		}
		if err != nil {
			var syn *xml.SyntaxError
			if errors.As(err, &syn) {
				b.pos.Line = syn.Line
				return b.fatalf("%s", syn.Msg)
			}
			return b.fatalf("%v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if fragment && !wrapped {
				wrapped = true
				continue
			}
			if err := b.start(t); err != nil {
				return err
			}
		case xml.EndElement:
			if fragment && len(b.stack) == base {
				if t.Name.Space != "" || t.Name.Local != "entity" {
					return b.fatalf("entity replacement text is not well-formed")
				}
				return nil
			}
			if err := b.end(t); err != nil {
				return err
			}
		case xml.CharData:
			if err := b.text(string(t)); err != nil {
				return err
			}
		case xml.Comment:
			b.appendNode(&doctree.Comment{Data: string(t)})
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			b.appendNode(&doctree.ProcInst{Target: t.Target, Inst: string(t.Inst)})
		case xml.Directive:
			if fragment {
				return b.fatalf("markup declarations are not allowed in entity content")
			}
			if err := b.doctype(string(t)); err != nil {
				return err
			}
		}
	}
}

func (b *builder) appendNode(n doctree.Node) {
	if len(b.stack) == 0 {
		b.doc.Prolog = append(b.doc.Prolog, n)
		return
	}
	top := b.stack[len(b.stack)-1]
	top.Children = append(top.Children, n)
}

func (b *builder) doctype(directive string) error {
	if b.doc.Root != nil || b.doc.Doctype != nil {
		return b.fatalf("document type declaration is not allowed here")
	}
	dt, subset, err := parseDoctype(directive)
	if err != nil {
		return b.fatalf("%v", err)
	}
	dtd, err := grammar.Load(dt.Name, dt.PublicID, dt.SystemID, subset, b.systemID, b.fetch)
	if err != nil {
		return b.fatalf("%v", err)
	}
	b.doc.Doctype = dt
	b.dtd = dtd
	b.val = dtd.NewValidator(b.systemID, b.errs.Add)

	for _, e := range dtd.Entities() {
		if _, ok := predefinedEntities[e.Name]; ok || e.Notation != "" {
			continue
		}
		if !e.External() && !strings.ContainsAny(e.Value, "<&") {
			b.entities[e.Name] = e.Value
			continue
		}
		b.entities[e.Name] = string(markOpen) + e.Name + string(markClose)
	}
	return nil
}

func (b *builder) fetch(publicID, systemID, base string) ([]byte, string, error) {
	resolved := resolveSystemID(base, systemID)
	if b.resolver == nil {
		return nil, "", fmt.Errorf("no entity resolver for %s", resolved)
	}
	rc, err := b.resolver.ResolveEntity(publicID, resolved)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntitySize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", resolved, err)
	}
	if len(data) > maxEntitySize {
		return nil, "", fmt.Errorf("%s exceeds %d bytes", resolved, maxEntitySize)
	}
	return data, resolved, nil
}

func (b *builder) start(t xml.StartElement) error {
	if len(b.stack) == 0 && b.doc.Root != nil {
		return b.fatalf("markup after the document element is not allowed")
	}

	raw := make([]grammar.Attribute, 0, len(t.Attr))
	for _, a := range t.Attr {
		name := qualified(a.Name)
		for _, prev := range raw {
			if prev.Name == name {
				return b.fatalf("attribute %q was already specified for element %q", name, qualified(t.Name))
			}
		}
		v, err := b.attrValue(a.Value, 0)
		if err != nil {
			return err
		}
		raw = append(raw, grammar.Attribute{Name: name, Value: v})
	}

	if b.val == nil && len(b.stack) == 0 {
		b.errs.Add(grammar.Violation{SystemID: b.systemID, Line: b.pos.Line, Column: b.pos.Column,
			Message: "Document is invalid: no grammar found."})
		b.errs.Add(grammar.Violation{SystemID: b.systemID, Line: b.pos.Line, Column: b.pos.Column,
			Message: fmt.Sprintf("Document root element %q, must match DOCTYPE root \"null\".", qualified(t.Name))})
	}

	var defaults []grammar.Attribute
	if b.val != nil {
		defaults = b.val.StartElement(qualified(t.Name), raw, b.pos)
	}
	attrs := make([]doctree.Attr, 0, len(raw)+len(defaults))
	for _, a := range raw {
		prefix, local := splitQName(a.Name)
		attrs = append(attrs, doctree.Attr{Prefix: prefix, Local: local, Value: a.Value})
	}
	for _, d := range defaults {
		prefix, local := splitQName(d.Name)
		attrs = append(attrs, doctree.Attr{Prefix: prefix, Local: local, Value: d.Value, Defaulted: true})
	}

	scope := make(map[string]string)
	for _, a := range attrs {
		switch {
		case a.Prefix == "" && a.Local == "xmlns":
			scope[""] = a.Value
		case a.Prefix == "xmlns":
			if a.Value == "" {
				return b.fatalf("namespace prefix %q cannot be bound to an empty name", a.Local)
			}
			scope[a.Local] = a.Value
		}
	}
	b.scopes = append(b.scopes, scope)

	el := &doctree.Element{Prefix: t.Name.Space, Local: t.Name.Local, Line: b.pos.Line}
	uri, ok := b.lookup(el.Prefix)
	if !ok {
		return b.fatalf("the prefix %q for element %q is not bound", el.Prefix, el.QName())
	}
	el.Space = uri
	for i := range attrs {
		a := &attrs[i]
		switch {
		case a.Prefix == "xmlns" || a.Prefix == "" && a.Local == "xmlns":
			a.Space = nsXMLNS
		case a.Prefix == "":
		default:
			uri, ok := b.lookup(a.Prefix)
			if !ok {
				return b.fatalf("the prefix %q for attribute %q is not bound", a.Prefix, a.QName())
			}
			a.Space = uri
		}
	}
	el.Attrs = attrs

	if len(b.stack) == 0 {
		b.doc.Root = el
	} else {
		top := b.stack[len(b.stack)-1]
		top.Children = append(top.Children, el)
	}
	b.stack = append(b.stack, el)
	return nil
}

func (b *builder) end(t xml.EndElement) error {
	if len(b.stack) == 0 {
		return b.fatalf("unexpected end tag </%s>", qualified(t.Name))
	}
	top := b.stack[len(b.stack)-1]
	if name := qualified(t.Name); name != top.QName() {
		return b.fatalf("element type %q must be terminated by the matching end-tag \"</%s>\"", top.QName(), top.QName())
	}
	b.stack = b.stack[:len(b.stack)-1]
	b.scopes = b.scopes[:len(b.scopes)-1]
	if b.val != nil {
		b.val.EndElement(b.pos)
	}
	return nil
}

func (b *builder) text(data string) error {
	if len(b.stack) == 0 {
		if !grammar.IsWhitespace(data) {
			return b.fatalf("content is not allowed outside the document element")
		}
		return nil
	}
	for data != "" {
		i := strings.IndexRune(data, markOpen)
		if i < 0 {
			b.appendText(data)
			return nil
		}
		b.appendText(data[:i])
		rest := data[i+len(string(markOpen)):]
		j := strings.IndexRune(rest, markClose)
		if j < 0 {
			return b.fatalf("malformed entity reference")
		}
		if err := b.expand(rest[:j]); err != nil {
			return err
		}
		data = rest[j+len(string(markClose)):]
	}
	return nil
}

func (b *builder) appendText(data string) {
	if data == "" {
		return
	}
	top := b.stack[len(b.stack)-1]
	top.AppendText(data)
	if b.val != nil {
		b.val.CharData(data, b.pos)
	}
}

// expand parses the replacement text of a general entity in place.
func (b *builder) expand(name string) error {
	ent := b.dtd.Entity(name)
	if ent == nil {
		return b.fatalf("the entity %q was referenced, but not declared", name)
	}
	if b.active[name] || len(b.active) >= maxEntityDepth {
		return b.fatalf("recursive entity reference %q", name)
	}
	text, _, err := ent.Text(b.fetch)
	if err != nil {
		return b.fatalf("%v", err)
	}
	b.active[name] = true
	defer delete(b.active, name)

	var buf bytes.Buffer
	buf.WriteString("<entity>")
	buf.WriteString(text)
	buf.WriteString("</entity>")
	return b.consume(b.newDecoder(&buf), true)
}

// attrValue expands entity markers in an attribute value. Entities used in
// attribute values must be internal and free of '<'.
func (b *builder) attrValue(v string, depth int) (string, error) {
	if !strings.ContainsRune(v, markOpen) {
		return v, nil
	}
	if depth > maxEntityDepth {
		return "", b.fatalf("entity nesting in attribute value exceeds %d", maxEntityDepth)
	}
	var sb strings.Builder
	for v != "" {
		i := strings.IndexRune(v, markOpen)
		if i < 0 {
			sb.WriteString(v)
			break
		}
		sb.WriteString(v[:i])
		rest := v[i+len(string(markOpen)):]
		j := strings.IndexRune(rest, markClose)
		if j < 0 {
			return "", b.fatalf("malformed entity reference")
		}
		name := rest[:j]
		v = rest[j+len(string(markClose)):]

		ent := b.dtd.Entity(name)
		if ent == nil || ent.External() {
			return "", b.fatalf("the external entity reference \"&%s;\" is not permitted in an attribute value", name)
		}
		if strings.Contains(ent.Value, "<") {
			return "", b.fatalf("the value of an attribute must not contain '<' (entity %q)", name)
		}
		expanded, err := b.unescape(ent.Value)
		if err != nil {
			return "", err
		}
		expanded, err = b.attrValue(expanded, depth+1)
		if err != nil {
			return "", err
		}
		sb.WriteString(expanded)
	}
	return sb.String(), nil
}

// unescape resolves character references and predefined entities in
// replacement text used inside an attribute value. References to other
// general entities are replaced by their decoder table entry.
func (b *builder) unescape(s string) (string, error) {
	var sb strings.Builder
	for {
		i := strings.IndexByte(s, '&')
		if i < 0 {
			sb.WriteString(s)
			return sb.String(), nil
		}
		sb.WriteString(s[:i])
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return "", b.fatalf("unterminated reference in entity value")
		}
		ref := s[i+1 : i+end]
		s = s[i+end+1:]

		if strings.HasPrefix(ref, "#") {
			r, err := charRef(ref[1:])
			if err != nil {
				return "", b.fatalf("%v", err)
			}
			sb.WriteRune(r)
			continue
		}
		if v, ok := predefinedEntities[ref]; ok {
			sb.WriteString(v)
			continue
		}
		v, ok := b.entities[ref]
		if !ok {
			return "", b.fatalf("the entity %q was referenced, but not declared", ref)
		}
		sb.WriteString(v)
	}
}

func charRef(ref string) (rune, error) {
	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(ref, "x") {
		n, err = strconv.ParseUint(ref[1:], 16, 32)
	} else {
		n, err = strconv.ParseUint(ref, 10, 32)
	}
	if err != nil || n == 0 || !utf8.ValidRune(rune(n)) {
		return 0, fmt.Errorf("invalid character reference &#%s;", ref)
	}
	return rune(n), nil
}

func (b *builder) lookup(prefix string) (string, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if uri, ok := b.scopes[i][prefix]; ok {
			return uri, true
		}
	}
	if prefix == "" {
		return "", true
	}
	return "", false
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func splitQName(name string) (string, string) {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
