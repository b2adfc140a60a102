// Package grammar parses document type declarations and validates element
// streams against them while a document is being built.
package grammar

import (
	"fmt"
	"regexp"
	"sort"
)

// ContentKind classifies an element declaration's content specification.
type ContentKind int

const (
	ContentEmpty ContentKind = iota
	ContentAny
	ContentMixed
	ContentChildren
)

// ElementDecl is an <!ELEMENT> declaration.
type ElementDecl struct {
	Name  string
	Kind  ContentKind
	Model string   // content specification as written, normalized
	Mixed []string // element names allowed in mixed content

	re *regexp.Regexp // children content model, nil unless Kind == ContentChildren
}

// AttrType is the declared type of an attribute.
type AttrType int

const (
	TypeCDATA AttrType = iota
	TypeID
	TypeIDREF
	TypeIDREFS
	TypeEntity
	TypeEntities
	TypeNMToken
	TypeNMTokens
	TypeNotation
	TypeEnumeration
)

var attrTypeNames = map[string]AttrType{
	"CDATA":    TypeCDATA,
	"ID":       TypeID,
	"IDREF":    TypeIDREF,
	"IDREFS":   TypeIDREFS,
	"ENTITY":   TypeEntity,
	"ENTITIES": TypeEntities,
	"NMTOKEN":  TypeNMToken,
	"NMTOKENS": TypeNMTokens,
}

// DefaultKind is the default declaration of an attribute.
type DefaultKind int

const (
	DefaultValue DefaultKind = iota
	DefaultRequired
	DefaultImplied
	DefaultFixed
)

// AttrDecl is one attribute definition from an <!ATTLIST> declaration.
type AttrDecl struct {
	Element string
	Name    string
	Type    AttrType
	Enum    []string // allowed values for TypeEnumeration and TypeNotation
	Default DefaultKind
	Value   string // default or fixed value
}

// HasDefault reports whether the attribute is materialized when absent.
func (a *AttrDecl) HasDefault() bool {
	return a.Default == DefaultValue || a.Default == DefaultFixed
}

// Entity is an <!ENTITY> declaration.
type Entity struct {
	Name      string
	Parameter bool
	Value     string // replacement text of an internal entity
	PublicID  string
	SystemID  string
	Base      string // system id of the entity that declared this one
	Notation  string // NDATA notation of an unparsed entity

	loaded bool
}

// External reports whether the entity's replacement text lives in another resource.
func (e *Entity) External() bool {
	return e.SystemID != "" || e.PublicID != ""
}

// DTD is the grammar assembled from a document's internal and external subsets.
type DTD struct {
	Name     string // expected document element
	PublicID string
	SystemID string

	elements map[string]*ElementDecl
	attrs    map[string][]*AttrDecl
	entities map[string]*Entity
	params   map[string]*Entity
}

func newDTD(name, publicID, systemID string) *DTD {
	return &DTD{
		Name:     name,
		PublicID: publicID,
		SystemID: systemID,
		elements: make(map[string]*ElementDecl),
		attrs:    make(map[string][]*AttrDecl),
		entities: make(map[string]*Entity),
		params:   make(map[string]*Entity),
	}
}

// Element returns the declaration for an element type.
func (d *DTD) Element(name string) *ElementDecl {
	return d.elements[name]
}

// Attributes returns the attribute definitions for an element type in
// declaration order.
func (d *DTD) Attributes(element string) []*AttrDecl {
	return d.attrs[element]
}

// Attribute returns one attribute definition.
func (d *DTD) Attribute(element, name string) *AttrDecl {
	for _, a := range d.attrs[element] {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Entity returns a general entity declaration.
func (d *DTD) Entity(name string) *Entity {
	return d.entities[name]
}

// Entities returns the general entities sorted by name.
func (d *DTD) Entities() []*Entity {
	out := make([]*Entity, 0, len(d.entities))
	for _, e := range d.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ElementNames returns the declared element types sorted by name.
func (d *DTD) ElementNames() []string {
	out := make([]string, 0, len(d.elements))
	for n := range d.elements {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Violation is a non-fatal grammar error found while a document is built.
type Violation struct {
	SystemID string `json:"system_id,omitempty"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
}

func (v Violation) Error() string {
	if v.SystemID != "" {
		return fmt.Sprintf("%s:%d:%d: %s", v.SystemID, v.Line, v.Column, v.Message)
	}
	return fmt.Sprintf("line %d, column %d: %s", v.Line, v.Column, v.Message)
}
