package reader

import "github.com/dgallion1/mapread/internal/doctree"

// Dialect is the grammar family a mapping document is written in.
type Dialect int

const (
	// Legacy documents carry a document type declaration and are validated
	// while they are parsed.
	Legacy Dialect = iota
	// Modern documents are versioned and validated against a schema after
	// parsing.
	Modern
)

const (
	modernRootTag = "entity-mappings"
	versionAttr   = "version"
)

func (d Dialect) String() string {
	switch d {
	case Legacy:
		return "legacy"
	case Modern:
		return "modern"
	}
	return "unknown"
}

// DialectOf decides the dialect from the document element.
func DialectOf(root *doctree.Element) Dialect {
	if root != nil && root.Local == modernRootTag {
		return Modern
	}
	return Legacy
}

// VersionToken returns the version attribute of a modern document element.
func VersionToken(root *doctree.Element) (string, bool) {
	if root == nil {
		return "", false
	}
	return root.Attr(versionAttr)
}
