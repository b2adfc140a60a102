package doctree

import "strings"

// Document is the root of a parsed mapping document.
type Document struct {
	SystemID string   // System identifier of the source, if known
	Doctype  *Doctype // Document type declaration (nil if absent)
	Prolog   []Node   // Comments and processing instructions before the root
	Root     *Element // Document element (nil for an empty document)
}

// Doctype records the document type declaration.
type Doctype struct {
	Name     string
	PublicID string
	SystemID string
}

// Node is one of *Element, *Text, *Comment or *ProcInst.
type Node interface {
	node()
}

// Element is an element node with its attributes and children.
type Element struct {
	Prefix   string // Namespace prefix as written ("" when unprefixed)
	Local    string // Local name
	Space    string // Resolved namespace URI
	Attrs    []Attr
	Children []Node
	Line     int // Source line of the start tag (0 if N/A)
}

// Attr is an attribute on an element.
type Attr struct {
	Prefix    string
	Local     string
	Space     string
	Value     string
	Defaulted bool // Materialized from a grammar default, not present in the source
}

// Text is character data. Adjacent runs are always merged into one node.
type Text struct {
	Data string
}

// Comment is an XML comment.
type Comment struct {
	Data string
}

// ProcInst is a processing instruction.
type ProcInst struct {
	Target string
	Inst   string
}

func (*Element) node()  {}
func (*Text) node()     {}
func (*Comment) node()  {}
func (*ProcInst) node() {}

// QName returns the element name as written, including any prefix.
func (e *Element) QName() string {
	if e.Prefix == "" {
		return e.Local
	}
	return e.Prefix + ":" + e.Local
}

// QName returns the attribute name as written, including any prefix.
func (a Attr) QName() string {
	if a.Prefix == "" {
		return a.Local
	}
	return a.Prefix + ":" + a.Local
}

// Attr returns the value of the unqualified attribute name.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Prefix == "" && a.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrValue returns the value of the named attribute or "" when absent.
func (e *Element) AttrValue(name string) string {
	v, _ := e.Attr(name)
	return v
}

// AppendText adds character data, merging it into a trailing text node.
func (e *Element) AppendText(data string) {
	if data == "" {
		return
	}
	if n := len(e.Children); n > 0 {
		if t, ok := e.Children[n-1].(*Text); ok {
			t.Data += data
			return
		}
	}
	e.Children = append(e.Children, &Text{Data: data})
}

// Elements returns the child elements in document order.
func (e *Element) Elements() []*Element {
	var out []*Element
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok {
			out = append(out, el)
		}
	}
	return out
}

// Child returns the first child element with the given local name.
func (e *Element) Child(local string) *Element {
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok && el.Local == local {
			return el
		}
	}
	return nil
}

// Text returns the concatenated character data of the element and its descendants.
func (e *Element) Text() string {
	var sb strings.Builder
	var walk func(*Element)
	walk = func(n *Element) {
		for _, c := range n.Children {
			switch c := c.(type) {
			case *Text:
				sb.WriteString(c.Data)
			case *Element:
				walk(c)
			}
		}
	}
	walk(e)
	return sb.String()
}

// Walk visits e and every descendant element in document order. Returning
// false from fn skips the element's children.
func (e *Element) Walk(fn func(*Element) bool) {
	if !fn(e) {
		return
	}
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok {
			el.Walk(fn)
		}
	}
}
