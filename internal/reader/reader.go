package reader

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/mapread/internal/doctree"
	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/schema"
)

// Reader parses mapping documents and validates them according to their
// dialect. It holds no per-read state and is safe for concurrent use.
type Reader struct {
	cache *schema.Cache
	log   *slog.Logger
}

func New(cache *schema.Cache, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}
	return &Reader{cache: cache, log: log}
}

// Read parses src and validates the result. Failures are one of
// *mapping.MalformedDocumentError, *mapping.InvalidMappingError,
// *mapping.UnsupportedVersionError or *mapping.SchemaLoadError, each
// carrying origin.
func (r *Reader) Read(resolver parser.EntityResolver, src parser.Source, origin mapping.Origin) (*mapping.Document, error) {
	errs := &parser.ErrorCollector{}
	defer errs.Reset()

	tree, err := parser.Parse(resolver, src, errs)
	if err != nil {
		return nil, &mapping.MalformedDocumentError{Origin: origin, Err: err}
	}
	if tree.Root == nil {
		return nil, &mapping.InvalidMappingError{Origin: origin, Reason: mapping.ErrNoRootElement}
	}

	dialect := DialectOf(tree.Root)
	switch dialect {
	case Modern:
		// Grammar errors from the parse are superseded by the schema.
		err = r.validateModern(tree, origin)
	case Legacy:
		err = r.checkGrammar(errs, origin)
	}
	if err != nil {
		return nil, err
	}

	r.log.Debug("mapping read",
		"origin_kind", origin.Kind,
		"origin_name", origin.Name,
		"dialect", dialect.String(),
		"root", tree.Root.QName(),
	)
	return &mapping.Document{Tree: tree, Origin: origin}, nil
}

func (r *Reader) validateModern(tree *doctree.Document, origin mapping.Origin) error {
	token, present := VersionToken(tree.Root)
	v, err := schema.ResolveVersion(token, present, origin)
	if err != nil {
		return err
	}

	s, err := r.cache.Get(v)
	if err != nil {
		var le *mapping.SchemaLoadError
		if errors.As(err, &le) {
			return &mapping.SchemaLoadError{Origin: origin, Resource: le.Resource, Err: le.Err}
		}
		return &mapping.SchemaLoadError{Origin: origin, Resource: v.Resource(), Err: err}
	}

	var buf bytes.Buffer
	if err := tree.WriteXML(&buf); err != nil {
		return &mapping.InvalidMappingError{Origin: origin, Reason: mapping.ErrSchemaInvalid, Err: fmt.Errorf("serialize: %w", err)}
	}
	if err := s.Validate(&buf); err != nil {
		return &mapping.InvalidMappingError{Origin: origin, Reason: mapping.ErrSchemaInvalid, Err: err}
	}
	return nil
}

// checkGrammar turns violations deferred during the parse into a failure,
// logging each one.
func (r *Reader) checkGrammar(errs *parser.ErrorCollector, origin mapping.Origin) error {
	if !errs.HasErrors() {
		return nil
	}
	violations := errs.Errors()
	for _, v := range violations {
		r.log.Error("grammar violation",
			"origin_kind", origin.Kind,
			"origin_name", origin.Name,
			"line", v.Line,
			"column", v.Column,
			"error", v.Message,
		)
	}
	return &mapping.InvalidMappingError{Origin: origin, Reason: mapping.ErrGrammarInvalid, Violations: violations}
}
