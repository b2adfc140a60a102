package grammar

import (
	"fmt"
	"strings"
)

// Position is a location in the source document.
type Position struct {
	Line   int
	Column int
}

// Attribute is an attribute as written on a start tag.
type Attribute struct {
	Name  string // qualified name
	Value string
}

// Validator checks a stream of elements against a DTD as a document is built.
// Violations are passed to report; they never stop the stream. A Validator
// is used for a single document.
type Validator struct {
	dtd      *DTD
	systemID string
	report   func(Violation)

	stack    []*frame
	rootSeen bool
	ids      map[string]bool
	refs     []idref
}

type frame struct {
	name     string
	decl     *ElementDecl
	children []string
	text     bool // non-whitespace character data seen
	anyText  bool
}

type idref struct {
	value string
	pos   Position
}

// NewValidator returns a Validator reporting to report.
func (d *DTD) NewValidator(systemID string, report func(Violation)) *Validator {
	return &Validator{
		dtd:      d,
		systemID: systemID,
		report:   report,
		ids:      make(map[string]bool),
	}
}

func (v *Validator) errorf(pos Position, format string, args ...any) {
	v.report(Violation{
		SystemID: v.systemID,
		Line:     pos.Line,
		Column:   pos.Column,
		Message:  fmt.Sprintf(format, args...),
	})
}

// StartElement validates a start tag and returns the attributes that must be
// added to the element because the grammar supplies a default for them.
// Values of declared attributes with a tokenized type are normalized in attrs.
func (v *Validator) StartElement(name string, attrs []Attribute, pos Position) []Attribute {
	if !v.rootSeen {
		v.rootSeen = true
		if name != v.dtd.Name {
			v.errorf(pos, "Document root element %q, must match DOCTYPE root %q.", name, v.dtd.Name)
		}
	}
	if n := len(v.stack); n > 0 {
		parent := v.stack[n-1]
		parent.children = append(parent.children, name)
	}

	decl := v.dtd.elements[name]
	v.stack = append(v.stack, &frame{name: name, decl: decl})
	if decl == nil {
		v.errorf(pos, "Element type %q must be declared.", name)
		return nil
	}

	for i, a := range attrs {
		if a.Name == "xmlns" || strings.HasPrefix(a.Name, "xmlns:") {
			continue
		}
		ad := v.dtd.Attribute(name, a.Name)
		if ad == nil {
			v.errorf(pos, "Attribute %q must be declared for element type %q.", a.Name, name)
			continue
		}
		value := normalizeValue(a.Value, ad.Type.tokenized())
		if ad.Type.tokenized() {
			attrs[i].Value = value
		}
		v.checkValue(ad, value, pos)
	}

	var defaults []Attribute
	for _, ad := range v.dtd.attrs[name] {
		if hasAttr(attrs, ad.Name) {
			continue
		}
		switch {
		case ad.Default == DefaultRequired:
			v.errorf(pos, "Attribute %q is required and must be specified for element type %q.", ad.Name, name)
		case ad.HasDefault():
			defaults = append(defaults, Attribute{Name: ad.Name, Value: ad.Value})
			if ad.Type == TypeIDREF || ad.Type == TypeIDREFS {
				v.addRefs(ad.Value, pos)
			}
		}
	}
	return defaults
}

func (v *Validator) checkValue(ad *AttrDecl, value string, pos Position) {
	if ad.Default == DefaultFixed && value != ad.Value {
		v.errorf(pos, "Attribute %q has a fixed value of %q.", ad.Name, ad.Value)
	}
	switch ad.Type {
	case TypeEnumeration, TypeNotation:
		if !contains(ad.Enum, value) {
			v.errorf(pos, "Attribute %q with value %q must have a value from the list %q.", ad.Name, value, strings.Join(ad.Enum, " "))
		}
	case TypeID:
		if !IsName(value) {
			v.errorf(pos, "Attribute value %q of type ID must be a name.", value)
			return
		}
		if v.ids[value] {
			v.errorf(pos, "Attribute value %q of type ID must be unique within the document.", value)
		}
		v.ids[value] = true
	case TypeIDREF, TypeIDREFS:
		v.addRefs(value, pos)
	case TypeNMToken:
		if !IsNmtoken(value) {
			v.errorf(pos, "Attribute value %q of type NMTOKEN must be a name token.", value)
		}
	case TypeNMTokens:
		for _, tok := range strings.Fields(value) {
			if !IsNmtoken(tok) {
				v.errorf(pos, "Attribute value %q of type NMTOKENS must be name tokens.", value)
				break
			}
		}
	case TypeEntity, TypeEntities:
		for _, ref := range strings.Fields(value) {
			if e := v.dtd.entities[ref]; e == nil || e.Notation == "" {
				v.errorf(pos, "Attribute %q value %q must be the name of an unparsed entity.", ad.Name, ref)
			}
		}
	}
}

func (v *Validator) addRefs(value string, pos Position) {
	for _, ref := range strings.Fields(value) {
		v.refs = append(v.refs, idref{value: ref, pos: pos})
	}
}

// CharData records character data inside the current element.
func (v *Validator) CharData(data string, pos Position) {
	if len(v.stack) == 0 || data == "" {
		return
	}
	top := v.stack[len(v.stack)-1]
	top.anyText = true
	if top.text || IsWhitespace(data) {
		return
	}
	top.text = true
	if top.decl != nil && top.decl.Kind == ContentChildren {
		v.errorf(pos, "The content of element type %q must match %q.", top.name, top.decl.Model)
	}
}

// EndElement checks the content of the element being closed.
func (v *Validator) EndElement(pos Position) {
	n := len(v.stack)
	if n == 0 {
		return
	}
	top := v.stack[n-1]
	v.stack = v.stack[:n-1]
	if top.decl == nil {
		return
	}
	switch top.decl.Kind {
	case ContentEmpty:
		if top.anyText || len(top.children) > 0 {
			v.errorf(pos, "The content of element type %q must match \"EMPTY\".", top.name)
		}
	case ContentChildren:
		if top.text {
			// already reported by CharData
			return
		}
		if !top.decl.matches(top.children) {
			v.errorf(pos, "The content of element type %q must match %q.", top.name, top.decl.Model)
		}
	case ContentMixed:
		if !top.decl.matches(top.children) {
			v.errorf(pos, "The content of element type %q must match %q.", top.name, top.decl.Model)
		}
	}
}

// End finishes the document, checking that every IDREF names an ID.
func (v *Validator) End() {
	for _, r := range v.refs {
		if !v.ids[r.value] {
			v.errorf(r.pos, "An element with the identifier %q must appear in the document.", r.value)
		}
	}
	v.refs = nil
}

func hasAttr(attrs []Attribute, name string) bool {
	for _, a := range attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}
