package mapping

import (
	"fmt"

	"github.com/dgallion1/mapread/internal/doctree"
)

// SourceKind identifies where a mapping document came from.
type SourceKind string

const (
	SourceResource    SourceKind = "resource"
	SourceFile        SourceKind = "file"
	SourceInputStream SourceKind = "input_stream"
	SourceURL         SourceKind = "url"
	SourceString      SourceKind = "string"
	SourceDOM         SourceKind = "dom"
	SourceJar         SourceKind = "jar"
	SourceAnnotation  SourceKind = "annotation"
	SourceOther       SourceKind = "other"
)

var sourceKinds = map[SourceKind]bool{
	SourceResource:    true,
	SourceFile:        true,
	SourceInputStream: true,
	SourceURL:         true,
	SourceString:      true,
	SourceDOM:         true,
	SourceJar:         true,
	SourceAnnotation:  true,
	SourceOther:       true,
}

// ParseSourceKind maps a kind name to a SourceKind. Unknown or empty names
// yield SourceOther and false.
func ParseSourceKind(s string) (SourceKind, bool) {
	k := SourceKind(s)
	if sourceKinds[k] {
		return k, true
	}
	return SourceOther, false
}

// Origin describes the provenance of a mapping document. It is created by
// the caller and carried through every result and failure.
type Origin struct {
	Kind SourceKind `json:"kind"`
	Name string     `json:"name"`
}

// NewOrigin returns an Origin of the given kind and name.
func NewOrigin(kind SourceKind, name string) Origin {
	return Origin{Kind: kind, Name: name}
}

func (o Origin) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.Name)
}

// Document is a validated mapping document together with its origin.
type Document struct {
	Tree   *doctree.Document
	Origin Origin
}

// Root returns the document element.
func (d *Document) Root() *doctree.Element {
	if d == nil || d.Tree == nil {
		return nil
	}
	return d.Tree.Root
}
