package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/mapread/internal/doctree"
	"github.com/dgallion1/mapread/internal/grammar"
	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/reader"
	"github.com/dgallion1/mapread/internal/resource"
	"github.com/dgallion1/mapread/internal/schema"
)

// fakeReader decides the result from the document body and tracks how many
// reads run at once.
type fakeReader struct {
	delay    time.Duration
	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
}

func (f *fakeReader) Read(_ parser.EntityResolver, src parser.Source, origin mapping.Origin) (*mapping.Document, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	body, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, err
	}
	switch strings.TrimSpace(string(body)) {
	case "legacy":
		return docWithRoot(origin, &doctree.Element{Local: "hibernate-mapping"}), nil
	case "modern":
		return docWithRoot(origin, &doctree.Element{Local: "entity-mappings"}), nil
	case "modern-2.0":
		return docWithRoot(origin, &doctree.Element{
			Local: "entity-mappings",
			Attrs: []doctree.Attr{{Local: "version", Value: "2.0"}},
		}), nil
	case "grammar":
		return nil, &mapping.InvalidMappingError{
			Origin:     origin,
			Reason:     mapping.ErrGrammarInvalid,
			Violations: []grammar.Violation{{Line: 3, Column: 9, Message: "boom"}},
		}
	case "version":
		return nil, &mapping.UnsupportedVersionError{Origin: origin, Token: ""}
	case "schema":
		return nil, &mapping.SchemaLoadError{Origin: origin, Resource: "org/hibernate/jpa/orm_2_1.xsd", Err: resource.ErrNotFound}
	case "malformed":
		return nil, &mapping.MalformedDocumentError{Origin: origin, Err: errors.New("unexpected EOF")}
	}
	return nil, fmt.Errorf("unexpected body %q", body)
}

func docWithRoot(origin mapping.Origin, root *doctree.Element) *mapping.Document {
	return &mapping.Document{Origin: origin, Tree: &doctree.Document{Root: root}}
}

func inputs(bodies ...string) []Input {
	out := make([]Input, len(bodies))
	for i, b := range bodies {
		out[i] = Input{Name: fmt.Sprintf("doc-%d.xml", i), Data: []byte(b)}
	}
	return out
}

func TestReadAll_OutcomesInInputOrder(t *testing.T) {
	fr := &fakeReader{delay: time.Millisecond}
	bodies := []string{"legacy", "modern", "modern-2.0", "grammar", "version", "schema", "malformed"}

	out, err := ReadAll(context.Background(), fr, nil, inputs(bodies...), 3)
	require.NoError(t, err)
	require.Len(t, out, len(bodies), spew.Sdump(out))

	for i, o := range out {
		assert.Equal(t, fmt.Sprintf("doc-%d.xml", i), o.Origin.Name)
		assert.Equal(t, mapping.SourceInputStream, o.Origin.Kind)
		assert.Equal(t, ContentHashHex([]byte(bodies[i])), o.Digest)
	}

	assert.True(t, out[0].Valid)
	assert.Equal(t, "legacy", out[0].Dialect)
	assert.Equal(t, "hibernate-mapping", out[0].Root)
	assert.Empty(t, out[0].Version)

	assert.Equal(t, "modern", out[1].Dialect)
	assert.Equal(t, "2.1", out[1].Version, "omitted version reports the assumed one")
	assert.Equal(t, "2.0", out[2].Version)

	assert.False(t, out[3].Valid)
	assert.Equal(t, KindInvalid, out[3].ErrorKind)
	assert.Equal(t, mapping.ErrGrammarInvalid.Error(), out[3].Reason)
	assert.Len(t, out[3].Violations, 1)
	var invalid *mapping.InvalidMappingError
	assert.ErrorAs(t, out[3].Err(), &invalid)

	assert.Equal(t, KindUnsupported, out[4].ErrorKind)
	require.NotNil(t, out[4].Token)
	assert.Equal(t, "", *out[4].Token)

	assert.Equal(t, KindSchemaLoad, out[5].ErrorKind)
	assert.Equal(t, "org/hibernate/jpa/orm_2_1.xsd", out[5].Resource)

	assert.Equal(t, KindMalformed, out[6].ErrorKind)
	assert.Contains(t, out[6].Error, "unexpected EOF")
}

func TestReadAll_RespectsLimit(t *testing.T) {
	fr := &fakeReader{delay: 5 * time.Millisecond}
	bodies := make([]string, 24)
	for i := range bodies {
		bodies[i] = "legacy"
	}

	out, err := ReadAll(context.Background(), fr, nil, inputs(bodies...), 4)
	require.NoError(t, err)
	assert.Len(t, out, 24)
	assert.Equal(t, int64(24), fr.calls.Load())
	assert.LessOrEqual(t, fr.peak.Load(), int64(4))
}

func TestReadAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fr := &fakeReader{}

	out, err := ReadAll(ctx, fr, nil, inputs("legacy", "legacy"), 1)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 2)
	for _, o := range out {
		assert.Equal(t, KindCanceled, o.ErrorKind)
		assert.False(t, o.Valid)
	}
	assert.Zero(t, fr.calls.Load())
}

func TestReadAll_Empty(t *testing.T) {
	out, err := ReadAll(context.Background(), &fakeReader{}, nil, nil, 2)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewOutcome_UnknownError(t *testing.T) {
	o := NewOutcome(mapping.NewOrigin(mapping.SourceFile, "x.xml"), nil, errors.New("disk on fire"))
	assert.Equal(t, KindInternal, o.ErrorKind)
	assert.Equal(t, "disk on fire", o.Error)
}

func TestReadAll_RealReader(t *testing.T) {
	embedded := resource.NewSearchPath(resource.Embedded())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := reader.New(schema.NewCache(embedded, log), log)
	resolver := resource.NewDTDEntityResolver(embedded)

	const doctype = `<!DOCTYPE hibernate-mapping PUBLIC
	"-//Hibernate/Hibernate Mapping DTD 3.0//EN"
	"http://www.hibernate.org/dtd/hibernate-mapping-3.0.dtd">`
	docs := []Input{
		{Name: "User.hbm.xml", Kind: mapping.SourceFile, Data: []byte(doctype + `
<hibernate-mapping><class name="User"><id name="id"/></class></hibernate-mapping>`)},
		{Name: "Broken.hbm.xml", Kind: mapping.SourceFile, Data: []byte(doctype + `
<hibernate-mapping><class name="User" colour="red"><id name="id"/></class></hibernate-mapping>`)},
		{Name: "Truncated.hbm.xml", Kind: mapping.SourceFile, Data: []byte(`<hibernate-mapping><class`)},
	}

	out, err := ReadAll(context.Background(), r, resolver, docs, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.True(t, out[0].Valid, spew.Sdump(out[0]))
	assert.Equal(t, "legacy", out[0].Dialect)
	assert.Equal(t, mapping.SourceFile, out[0].Origin.Kind)

	assert.Equal(t, KindInvalid, out[1].ErrorKind, spew.Sdump(out[1]))
	assert.NotEmpty(t, out[1].Violations)

	assert.Equal(t, KindMalformed, out[2].ErrorKind)
}
