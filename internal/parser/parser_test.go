package parser

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/mapread/internal/doctree"
)

// mapResolver serves entities from memory and records the ids it was asked for.
type mapResolver struct {
	files map[string]string
	calls []string
}

func (r *mapResolver) ResolveEntity(publicID, systemID string) (io.ReadCloser, error) {
	r.calls = append(r.calls, systemID)
	data, ok := r.files[systemID]
	if !ok {
		return nil, errors.New("no such entity: " + systemID)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func parse(t *testing.T, resolver EntityResolver, doc string) (*doctree.Document, *ErrorCollector) {
	t.Helper()
	errs := &ErrorCollector{}
	tree, err := Parse(resolver, NewSource(strings.NewReader(doc), "test.xml"), errs)
	require.NoError(t, err)
	return tree, errs
}

func parseErr(t *testing.T, resolver EntityResolver, doc string) *FatalError {
	t.Helper()
	_, err := Parse(resolver, NewSource(strings.NewReader(doc), "test.xml"), &ErrorCollector{})
	require.Error(t, err)
	var fe *FatalError
	require.True(t, errors.As(err, &fe), "expected *FatalError, got %T: %v", err, err)
	return fe
}

const internalSubsetDoc = `<?xml version="1.0"?>
<!DOCTYPE catalog [
	<!ELEMENT catalog (item*)>
	<!ATTLIST catalog lang CDATA "en" owner CDATA #IMPLIED>
	<!ELEMENT item (#PCDATA)>
	<!ATTLIST item kind (plain|special) "plain">
]>
<catalog owner="ops">
	<item>first</item>
	<item kind="special">second</item>
</catalog>`

func TestParse_MaterializesDefaults(t *testing.T) {
	tree, errs := parse(t, nil, internalSubsetDoc)
	require.False(t, errs.HasErrors(), spew.Sdump(errs.Errors()))

	require.NotNil(t, tree.Doctype)
	assert.Equal(t, "catalog", tree.Doctype.Name)

	root := tree.Root
	require.NotNil(t, root)
	assert.Equal(t, "en", root.AttrValue("lang"))
	assert.Equal(t, "ops", root.AttrValue("owner"))
	for _, a := range root.Attrs {
		switch a.Local {
		case "lang":
			assert.True(t, a.Defaulted, "lang should be defaulted")
		case "owner":
			assert.False(t, a.Defaulted, "owner was written in the source")
		}
	}

	items := root.Elements()
	require.Len(t, items, 2, spew.Sdump(root))
	assert.Equal(t, "plain", items[0].AttrValue("kind"))
	assert.Equal(t, "special", items[1].AttrValue("kind"))
	assert.Equal(t, 9, items[0].Line)
}

func TestParse_NormalizesTokenizedAttributes(t *testing.T) {
	doc := `<!DOCTYPE hibernate-mapping [
	<!ELEMENT hibernate-mapping (class*)>
	<!ELEMENT class EMPTY>
	<!ATTLIST class
		name    CDATA        #IMPLIED
		mutable (true|false) "true"
		proxy   NMTOKEN      #IMPLIED>
]>
<hibernate-mapping><class name=" A " mutable=" false " proxy="
	AProxy "/></hibernate-mapping>`
	tree, errs := parse(t, nil, doc)
	require.False(t, errs.HasErrors(), spew.Sdump(errs.Errors()))

	class := tree.Root.Child("class")
	require.NotNil(t, class)
	assert.Equal(t, "false", class.AttrValue("mutable"))
	assert.Equal(t, "AProxy", class.AttrValue("proxy"))
	assert.Equal(t, " A ", class.AttrValue("name"), "CDATA values keep their spaces")
}

func TestParse_MergesAdjacentText(t *testing.T) {
	tree, _ := parse(t, nil, `<doc>a &amp; b<![CDATA[ <c> ]]>d&#33;</doc>`)
	require.Len(t, tree.Root.Children, 1, spew.Sdump(tree.Root.Children))
	txt, ok := tree.Root.Children[0].(*doctree.Text)
	require.True(t, ok)
	assert.Equal(t, "a & b <c> d!", txt.Data)
}

func TestParse_NoGrammarViolations(t *testing.T) {
	tree, errs := parse(t, nil, `<entity-mappings version="2.1"/>`)
	require.NotNil(t, tree.Root)
	assert.Nil(t, tree.Doctype)

	require.True(t, errs.HasErrors())
	got := errs.Errors()
	require.Len(t, got, 2)
	assert.Equal(t, "Document is invalid: no grammar found.", got[0].Message)
	assert.Equal(t, `Document root element "entity-mappings", must match DOCTYPE root "null".`, got[1].Message)
	assert.Equal(t, "test.xml", got[0].SystemID)
	assert.Equal(t, 1, got[0].Line)
}

func TestParse_GrammarViolationsAreDeferred(t *testing.T) {
	doc := `<!DOCTYPE catalog [
	<!ELEMENT catalog (item*)>
	<!ELEMENT item (#PCDATA)>
	<!ATTLIST item id ID #REQUIRED>
]>
<catalog><item/><widget/></catalog>`
	tree, errs := parse(t, nil, doc)
	require.NotNil(t, tree.Root, "violations must not stop the parse")

	var msgs []string
	for _, v := range errs.Errors() {
		msgs = append(msgs, v.Message)
	}
	assert.Contains(t, msgs, `Attribute "id" is required and must be specified for element type "item".`)
	assert.Contains(t, msgs, `Element type "widget" must be declared.`)
	assert.Contains(t, msgs, `The content of element type "catalog" must match "(item*)".`)
}

func TestParse_ExternalSubsetThroughResolver(t *testing.T) {
	resolver := &mapResolver{files: map[string]string{
		"dtd/mapping.dtd": `<?xml version="1.0" encoding="UTF-8"?>
<!ELEMENT mapping (entry*)>
<!ATTLIST mapping default-lazy (true|false) "true">
<!ENTITY % common SYSTEM "common.ent">
%common;`,
		"dtd/common.ent": `<!ELEMENT entry EMPTY>
<!ATTLIST entry name CDATA #REQUIRED access CDATA "property">`,
	}}
	doc := `<!DOCTYPE mapping SYSTEM "mapping.dtd">
<mapping><entry name="a"/></mapping>`

	errs := &ErrorCollector{}
	tree, err := Parse(resolver, NewSource(strings.NewReader(doc), "dtd/doc.xml"), errs)
	require.NoError(t, err)
	require.False(t, errs.HasErrors(), spew.Sdump(errs.Errors()))

	assert.Equal(t, []string{"dtd/mapping.dtd", "dtd/common.ent"}, resolver.calls)
	assert.Equal(t, "true", tree.Root.AttrValue("default-lazy"))
	assert.Equal(t, "property", tree.Root.Child("entry").AttrValue("access"))
	assert.Equal(t, "mapping.dtd", tree.Doctype.SystemID)
}

func TestParse_ExpandsMarkupEntities(t *testing.T) {
	doc := `<!DOCTYPE root [
	<!ELEMENT root (part*)>
	<!ELEMENT part (#PCDATA)>
	<!ATTLIST part label CDATA #IMPLIED>
	<!ENTITY name "world">
	<!ENTITY parts "<part>one</part><part label='&name;'>two &amp; three</part>">
	<!ENTITY shared SYSTEM "shared.xml">
]>
<root>&parts;&shared;</root>`
	resolver := &mapResolver{files: map[string]string{
		"shared.xml": `<?xml version="1.0"?><part>hello &name;</part>`,
	}}

	tree, errs := parse(t, resolver, doc)
	require.False(t, errs.HasErrors(), spew.Sdump(errs.Errors()))

	parts := tree.Root.Elements()
	require.Len(t, parts, 3, spew.Sdump(tree.Root))
	assert.Equal(t, "one", parts[0].Text())
	assert.Equal(t, "two & three", parts[1].Text())
	assert.Equal(t, "world", parts[1].AttrValue("label"))
	assert.Equal(t, "hello world", parts[2].Text())
}

func TestParse_EntityInAttributeValue(t *testing.T) {
	doc := `<!DOCTYPE root [
	<!ELEMENT root EMPTY>
	<!ATTLIST root title CDATA #IMPLIED>
	<!ENTITY co "ACME &amp; Co">
]>
<root title="by &co;"/>`
	tree, errs := parse(t, nil, doc)
	require.False(t, errs.HasErrors(), spew.Sdump(errs.Errors()))
	assert.Equal(t, "by ACME & Co", tree.Root.AttrValue("title"))
}

func TestParse_ResolvesNamespaces(t *testing.T) {
	tree, _ := parse(t, nil, `<m:root xmlns:m="urn:m" xmlns="urn:default" xmlns:x="urn:x">
	<child x:flag="1" plain="2"/>
</m:root>`)
	root := tree.Root
	assert.Equal(t, "m", root.Prefix)
	assert.Equal(t, "root", root.Local)
	assert.Equal(t, "urn:m", root.Space)
	assert.Equal(t, "m:root", root.QName())

	child := root.Child("child")
	require.NotNil(t, child)
	assert.Equal(t, "urn:default", child.Space)
	for _, a := range child.Attrs {
		switch a.QName() {
		case "x:flag":
			assert.Equal(t, "urn:x", a.Space)
		case "plain":
			assert.Empty(t, a.Space)
		}
	}
}

func TestParse_KeepsPrologNodes(t *testing.T) {
	tree, _ := parse(t, nil, `<?xml version="1.0"?>
<!-- generated -->
<?render mode="fast"?>
<root><!-- inner --></root>`)
	require.Len(t, tree.Prolog, 2)
	c, ok := tree.Prolog[0].(*doctree.Comment)
	require.True(t, ok)
	assert.Equal(t, " generated ", c.Data)
	pi, ok := tree.Prolog[1].(*doctree.ProcInst)
	require.True(t, ok)
	assert.Equal(t, "render", pi.Target)
	require.Len(t, tree.Root.Children, 1)
}

func TestParse_DecodesDeclaredCharset(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><root>caf\xe9</root>"
	tree, _ := parse(t, nil, doc)
	assert.Equal(t, "café", tree.Root.Text())
}

func TestParse_EmptyDocument(t *testing.T) {
	tree, errs := parse(t, nil, "")
	assert.Nil(t, tree.Root)
	assert.False(t, errs.HasErrors())

	tree, _ = parse(t, nil, `<?xml version="1.0"?><!-- nothing here -->`)
	assert.Nil(t, tree.Root)
}

func TestParse_FatalErrors(t *testing.T) {
	resolver := &mapResolver{files: map[string]string{}}
	cases := map[string]string{
		"mismatched end tag":   `<a><b></a></b>`,
		"unclosed element":     `<a><b></b>`,
		"second root":          `<a/><b/>`,
		"text after root":      `<a/>trailing`,
		"unbound prefix":       `<p:a/>`,
		"unbound attr prefix":  `<a q:x="1"/>`,
		"undeclared entity":    `<a>&nope;</a>`,
		"duplicate attribute":  `<a x="1" x="2"/>`,
		"missing external dtd": `<!DOCTYPE a SYSTEM "missing.dtd"><a/>`,
		"bad declaration":      `<!DOCTYPE a [<!ELEMENT a (b,|c)>]><a/>`,
		"recursive entity":     `<!DOCTYPE a [<!ENTITY x "<b>&y;</b>"><!ENTITY y "<c>&x;</c>">]><a>&x;</a>`,
		"markup in attribute":  `<!DOCTYPE a [<!ENTITY x "<b/>">]><a v="&x;"/>`,
		"malformed markup":     `<a <b/>`,
		"late doctype":         `<a/><!DOCTYPE a>`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			fe := parseErr(t, resolver, doc)
			assert.Equal(t, "test.xml", fe.SystemID)
			assert.NotEmpty(t, fe.Error())
		})
	}
}

func TestParse_NilReader(t *testing.T) {
	_, err := Parse(nil, Source{}, nil)
	require.Error(t, err)
}

func TestErrorCollector(t *testing.T) {
	var c ErrorCollector
	assert.False(t, c.HasErrors())

	c.Add(violation("first"))
	c.Add(violation("second"))
	require.True(t, c.HasErrors())

	got := c.Errors()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)

	got[0].Message = "changed"
	assert.Equal(t, "first", c.Errors()[0].Message, "Errors must return a copy")

	c.Reset()
	assert.False(t, c.HasErrors())
	assert.Empty(t, c.Errors())
}

func TestIsMappingFile(t *testing.T) {
	assert.True(t, IsMappingFile("User.hbm.xml"))
	assert.True(t, IsMappingFile("/etc/app/META-INF/orm.xml"))
	assert.True(t, IsMappingFile("MAPPING.XML"))
	assert.False(t, IsMappingFile("notes.txt"))
	assert.False(t, IsMappingFile("schema.xsd"))
}

func TestResolveSystemID(t *testing.T) {
	cases := []struct{ base, id, want string }{
		{"", "a.dtd", "a.dtd"},
		{"dir/doc.xml", "a.dtd", "dir/a.dtd"},
		{"doc.xml", "a.dtd", "a.dtd"},
		{"/abs/dir/doc.xml", "../a.dtd", "/abs/a.dtd"},
		{"dir/doc.xml", "http://www.hibernate.org/dtd/x.dtd", "http://www.hibernate.org/dtd/x.dtd"},
		{"http://example.com/m/doc.xml", "a.dtd", "http://example.com/m/a.dtd"},
		{"dir/doc.xml", "/root/a.dtd", "/root/a.dtd"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resolveSystemID(tc.base, tc.id), "base=%q id=%q", tc.base, tc.id)
	}
}

func TestParseDoctype(t *testing.T) {
	dt, subset, err := parseDoctype(`DOCTYPE hibernate-mapping PUBLIC "-//Hibernate/Hibernate Mapping DTD 3.0//EN" 'http://www.hibernate.org/dtd/hibernate-mapping-3.0.dtd' [ <!ENTITY a "b"> ]`)
	require.NoError(t, err)
	assert.Equal(t, "hibernate-mapping", dt.Name)
	assert.Equal(t, "-//Hibernate/Hibernate Mapping DTD 3.0//EN", dt.PublicID)
	assert.Equal(t, "http://www.hibernate.org/dtd/hibernate-mapping-3.0.dtd", dt.SystemID)
	assert.Equal(t, ` <!ENTITY a "b"> `, subset)

	dt, subset, err = parseDoctype(`DOCTYPE root[<!ELEMENT root EMPTY>]`)
	require.NoError(t, err)
	assert.Equal(t, "root", dt.Name)
	assert.Empty(t, dt.SystemID)
	assert.Equal(t, `<!ELEMENT root EMPTY>`, subset)

	for _, bad := range []string{`ENTITY x "y"`, `DOCTYPE`, `DOCTYPE r SYSTEM`, `DOCTYPE r SYSTEM "x" junk`, `DOCTYPE r PUBLIC "p"`} {
		_, _, err := parseDoctype(bad)
		assert.Error(t, err, bad)
	}
}
