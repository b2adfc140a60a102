package schema

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing/fstest"
	"time"

	"github.com/jacoelho/xsd"
	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/resource"
)

// maxSchemaSize bounds how much of a schema resource is read.
const maxSchemaSize = 16 << 20

// Cache compiles each version's schema on first use and keeps it for the life
// of the Cache. Concurrent first requests for a version share a single
// compilation. Failed compilations are not remembered.
type Cache struct {
	loader resource.Loader
	log    *slog.Logger

	mu      sync.RWMutex
	schemas map[Version]*xsd.Schema
	flight  singleflight.Group
}

func NewCache(loader resource.Loader, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		loader:  loader,
		log:     log,
		schemas: make(map[Version]*xsd.Schema),
	}
}

// Get returns the compiled schema for v. Errors are *mapping.SchemaLoadError.
func (c *Cache) Get(v Version) (*xsd.Schema, error) {
	if s := c.lookup(v); s != nil {
		return s, nil
	}
	res, err, _ := c.flight.Do(string(v), func() (any, error) {
		if s := c.lookup(v); s != nil {
			return s, nil
		}
		s, err := c.compile(v)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.schemas[v] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*xsd.Schema), nil
}

// Compiled reports whether v has already been compiled.
func (c *Cache) Compiled(v Version) bool {
	return c.lookup(v) != nil
}

// Warm compiles every supported version, stopping at the first failure.
func (c *Cache) Warm() error {
	for _, v := range SupportedVersions() {
		if _, err := c.Get(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) lookup(v Version) *xsd.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemas[v]
}

func (c *Cache) compile(v Version) (*xsd.Schema, error) {
	name := v.Resource()
	if name == "" {
		return nil, &mapping.SchemaLoadError{Resource: string(v), Err: fmt.Errorf("no schema resource for version %q", v)}
	}
	start := time.Now()

	data, err := c.read(name)
	if err != nil {
		return nil, &mapping.SchemaLoadError{Resource: name, Err: err}
	}

	set := xsd.NewSchemaSet()
	if err := set.AddFS(fstest.MapFS{name: {Data: data}}, name); err != nil {
		return nil, &mapping.SchemaLoadError{Resource: name, Err: err}
	}
	s, err := set.Compile()
	if err != nil {
		return nil, &mapping.SchemaLoadError{Resource: name, Err: fmt.Errorf("compile: %w", err)}
	}

	c.log.Info("schema compiled",
		"version", string(v),
		"resource", name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s, nil
}

func (c *Cache) read(name string) ([]byte, error) {
	rc, err := c.loader.Find(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			c.log.Debug("close schema resource", "resource", name, "error", cerr)
		}
	}()
	data, err := io.ReadAll(io.LimitReader(rc, maxSchemaSize+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(data) > maxSchemaSize {
		return nil, fmt.Errorf("schema exceeds %d bytes", maxSchemaSize)
	}
	return data, nil
}
