package parser

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/dgallion1/mapread/internal/doctree"
)

// EntityResolver resolves the external identifiers a document refers to: the
// external DTD subset and external entities. Callers may sandbox or cache
// loads here.
type EntityResolver interface {
	ResolveEntity(publicID, systemID string) (io.ReadCloser, error)
}

// EntityResolverFunc adapts a function to EntityResolver.
type EntityResolverFunc func(publicID, systemID string) (io.ReadCloser, error)

func (f EntityResolverFunc) ResolveEntity(publicID, systemID string) (io.ReadCloser, error) {
	return f(publicID, systemID)
}

// Source is raw document input. Its reader is consumed exactly once.
type Source struct {
	Reader   io.Reader
	SystemID string // optional; base for relative system ids
}

// NewSource wraps a reader with an optional system id.
func NewSource(r io.Reader, systemID string) Source {
	return Source{Reader: r, SystemID: systemID}
}

// FatalError is a parse failure that stops the document from being built.
type FatalError struct {
	SystemID string
	Line     int
	Column   int
	Err      error
}

func (e *FatalError) Error() string {
	loc := fmt.Sprintf("line %d, column %d", e.Line, e.Column)
	if e.SystemID != "" {
		loc = fmt.Sprintf("%s:%d:%d", e.SystemID, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Parse streams src into a document tree. Grammar validation is always on:
// default attribute values are materialized as elements are built, and
// violations that do not stop the parse are added to errs. Adjacent text is
// merged into a single node.
func Parse(resolver EntityResolver, src Source, errs *ErrorCollector) (*doctree.Document, error) {
	if src.Reader == nil {
		return nil, fmt.Errorf("parse: nil reader")
	}
	if errs == nil {
		errs = &ErrorCollector{}
	}
	b := newBuilder(resolver, src.SystemID, errs)
	if err := b.run(src.Reader); err != nil {
		return nil, err
	}
	return b.doc, nil
}

// SupportedExtensions lists the file suffixes treated as mapping documents.
var SupportedExtensions = []string{".hbm.xml", ".orm.xml", ".xml"}

// IsMappingFile reports whether a file name looks like a mapping document.
func IsMappingFile(filename string) bool {
	name := strings.ToLower(filepath.Base(filename))
	for _, ext := range SupportedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// resolveSystemID resolves a possibly relative system id against base.
func resolveSystemID(base, systemID string) string {
	if base == "" || systemID == "" || strings.HasPrefix(systemID, "/") {
		return systemID
	}
	ref, err := url.Parse(systemID)
	if err != nil || ref.IsAbs() {
		return systemID
	}
	b, err := url.Parse(filepath.ToSlash(base))
	if err != nil {
		return systemID
	}
	if !b.IsAbs() {
		return path.Join(path.Dir(b.Path), ref.Path)
	}
	return b.ResolveReference(ref).String()
}
