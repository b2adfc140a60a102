package resource

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no root on the search path holds a resource.
var ErrNotFound = errors.New("resource not found")

// Loader locates named resources such as grammar and schema definitions.
type Loader interface {
	Find(name string) (io.ReadCloser, error)
}

//go:embed resources
var embedded embed.FS

// Embedded returns the resources bundled with the binary, rooted so that
// names look like "org/hibernate/jpa/orm_2_1.xsd".
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "resources")
	if err != nil {
		panic(err)
	}
	return sub
}

// SearchPath looks a resource up in each root in order; the first hit wins.
type SearchPath struct {
	roots []fs.FS
}

func NewSearchPath(roots ...fs.FS) *SearchPath {
	return &SearchPath{roots: roots}
}

// Default builds a search path over dirs followed by the embedded resources.
// Empty entries in dirs are skipped.
func Default(dirs []string) *SearchPath {
	roots := make([]fs.FS, 0, len(dirs)+1)
	for _, d := range dirs {
		if d = strings.TrimSpace(d); d != "" {
			roots = append(roots, os.DirFS(d))
		}
	}
	roots = append(roots, Embedded())
	return NewSearchPath(roots...)
}

// SplitPathList splits an OS path list such as SCHEMA_SEARCH_PATH.
func SplitPathList(list string) []string {
	if list == "" {
		return nil
	}
	return filepath.SplitList(list)
}

// Find opens the named resource. Leading slashes are ignored.
func (s *SearchPath) Find(name string) (io.ReadCloser, error) {
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if !fs.ValidPath(clean) {
		return nil, fmt.Errorf("resource %q: invalid name", name)
	}
	for _, root := range s.roots {
		f, err := root.Open(clean)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("resource %q: %w", name, err)
		}
	}
	return nil, fmt.Errorf("resource %q: %w", name, ErrNotFound)
}
