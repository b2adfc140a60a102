package resource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	hibernateNamespace = "http://www.hibernate.org/dtd/"
	legacyNamespace    = "http://hibernate.sourceforge.net/"
	classpathScheme    = "classpath://"
	hibernatePrefix    = "org/hibernate/"
)

// DTDEntityResolver resolves external identifiers against a Loader. The
// well-known Hibernate DTD locations are served from local copies and
// nothing is ever fetched over the network.
type DTDEntityResolver struct {
	loader Loader
	dirs   []string
}

// NewDTDEntityResolver returns a resolver over loader. Plain path ids that
// fall under one of localDirs, such as an entity declared relative to a
// mapping file on disk, are opened from that directory first.
func NewDTDEntityResolver(loader Loader, localDirs ...string) *DTDEntityResolver {
	return &DTDEntityResolver{loader: loader, dirs: localDirs}
}

// ResolveEntity maps systemID to a resource name and opens it.
func (r *DTDEntityResolver) ResolveEntity(publicID, systemID string) (io.ReadCloser, error) {
	name, ok := ResourceName(systemID)
	if !ok {
		return nil, fmt.Errorf("entity %q (public id %q): remote entities are not resolved: %w", systemID, publicID, ErrNotFound)
	}
	if name == systemID {
		if rc, ok := r.openLocal(systemID); ok {
			return rc, nil
		}
	}
	rc, err := r.loader.Find(name)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", systemID, err)
	}
	return rc, nil
}

// ResourceName maps a system id to a search path name. It reports false for
// ids that would need a network fetch.
func ResourceName(systemID string) (string, bool) {
	for _, ns := range []string{hibernateNamespace, legacyNamespace} {
		for _, id := range []string{ns, "https://" + strings.TrimPrefix(ns, "http://")} {
			if rest, ok := strings.CutPrefix(systemID, id); ok {
				return hibernatePrefix + rest, rest != ""
			}
		}
	}
	if rest, ok := strings.CutPrefix(systemID, classpathScheme); ok {
		return strings.TrimLeft(rest, "/"), rest != ""
	}
	if systemID == "" || strings.Contains(systemID, "://") || strings.HasPrefix(systemID, "file:") {
		return "", false
	}
	return systemID, true
}

func (r *DTDEntityResolver) openLocal(systemID string) (io.ReadCloser, bool) {
	p := filepath.FromSlash(systemID)
	for _, dir := range r.dirs {
		rel, err := filepath.Rel(dir, p)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		f, err := os.DirFS(dir).Open(filepath.ToSlash(rel))
		if err == nil {
			return f, true
		}
	}
	return nil, false
}
