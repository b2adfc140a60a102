package pipeline

import (
	"bytes"
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/mapread/internal/grammar"
	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/reader"
	"github.com/dgallion1/mapread/internal/schema"
)

// MappingReader is the part of *reader.Reader the pipeline depends on.
type MappingReader interface {
	Read(resolver parser.EntityResolver, src parser.Source, origin mapping.Origin) (*mapping.Document, error)
}

// Input is one named document in a batch.
type Input struct {
	Name string
	Kind mapping.SourceKind
	Data []byte
}

func (in Input) origin() mapping.Origin {
	kind := in.Kind
	if kind == "" {
		kind = mapping.SourceInputStream
	}
	return mapping.NewOrigin(kind, in.Name)
}

// Error kinds reported in Outcome.ErrorKind.
const (
	KindMalformed   = "malformed_document"
	KindInvalid     = "invalid_mapping"
	KindUnsupported = "unsupported_version"
	KindSchemaLoad  = "schema_load"
	KindCanceled    = "canceled"
	KindInternal    = "internal"
)

// Outcome is the JSON-safe result of reading one document.
type Outcome struct {
	Origin  mapping.Origin `json:"origin"`
	Digest  string         `json:"sha256,omitempty"`
	Valid   bool           `json:"valid"`
	Dialect string         `json:"dialect,omitempty"`
	Root    string         `json:"root,omitempty"`
	Version string         `json:"version,omitempty"`

	Error      string              `json:"error,omitempty"`
	ErrorKind  string              `json:"kind,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Violations []grammar.Violation `json:"violations,omitempty"`
	Token      *string             `json:"token,omitempty"`
	Resource   string              `json:"resource,omitempty"`

	err error
}

// Err returns the read failure, or nil for a valid document.
func (o Outcome) Err() error { return o.err }

// NewOutcome summarizes the result of a single read.
func NewOutcome(origin mapping.Origin, doc *mapping.Document, err error) Outcome {
	o := Outcome{Origin: origin, err: err}
	if err == nil {
		root := doc.Root()
		dialect := reader.DialectOf(root)
		o.Valid = true
		o.Dialect = dialect.String()
		o.Root = root.QName()
		if dialect == reader.Modern {
			o.Version = string(schema.AssumedVersion)
			if token, ok := reader.VersionToken(root); ok {
				o.Version = token
			}
		}
		return o
	}

	o.Error = err.Error()
	var (
		malformed   *mapping.MalformedDocumentError
		invalid     *mapping.InvalidMappingError
		unsupported *mapping.UnsupportedVersionError
		load        *mapping.SchemaLoadError
	)
	switch {
	case errors.As(err, &malformed):
		o.ErrorKind = KindMalformed
	case errors.As(err, &invalid):
		o.ErrorKind = KindInvalid
		o.Reason = invalid.Reason.Error()
		o.Violations = invalid.Violations
	case errors.As(err, &unsupported):
		o.ErrorKind = KindUnsupported
		token := unsupported.Token
		o.Token = &token
	case errors.As(err, &load):
		o.ErrorKind = KindSchemaLoad
		o.Resource = load.Resource
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		o.ErrorKind = KindCanceled
	default:
		o.ErrorKind = KindInternal
	}
	return o
}

// ReadAll reads every input with at most limit reads in flight and returns
// one outcome per input, in input order. A failing document never stops the
// others. Inputs not started before ctx is done are reported as canceled and
// the context error is returned.
func ReadAll(ctx context.Context, r MappingReader, resolver parser.EntityResolver, inputs []Input, limit int) ([]Outcome, error) {
	out := make([]Outcome, len(inputs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, in := range inputs {
		g.Go(func() error {
			origin := in.origin()
			if err := ctx.Err(); err != nil {
				out[i] = NewOutcome(origin, nil, err)
				return nil
			}
			doc, err := r.Read(resolver, parser.NewSource(bytes.NewReader(in.Data), in.Name), origin)
			out[i] = NewOutcome(origin, doc, err)
			out[i].Digest = ContentHashHex(in.Data)
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}
