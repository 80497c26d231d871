// Package firmware tracks the current firmware build per device kind.
package firmware

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"domator-go/internal/store"
)

// Catalog maps device kinds to their latest firmware version. When backed
// by a file, changes are written back to it.
type Catalog struct {
	mu       sync.RWMutex
	versions map[store.Kind]string
	path     string
}

type catalogFile struct {
	Versions map[string]string `yaml:"versions"`
}

// NewCatalog builds an in-memory catalog from kind/version pairs.
func NewCatalog(initial map[string]string) (*Catalog, error) {
	c := &Catalog{versions: make(map[store.Kind]string)}
	for k, v := range initial {
		kind, ok := store.ParseKind(k)
		if !ok {
			return nil, fmt.Errorf("firmware catalog: unknown device kind %q", k)
		}
		c.versions[kind] = v
	}
	return c, nil
}

// Load reads a YAML catalog. A missing file yields an empty catalog that
// will be created on the first Set.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c, _ := NewCatalog(nil)
		c.path = path
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read firmware catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse firmware catalog: %w", err)
	}
	c, err := NewCatalog(f.Versions)
	if err != nil {
		return nil, err
	}
	c.path = path
	return c, nil
}

// Latest returns the current version for kind.
func (c *Catalog) Latest(kind store.Kind) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.versions[kind]
	return v, ok
}

// UpToDate reports whether version is current for kind. Kinds without a
// known version are always up to date.
func (c *Catalog) UpToDate(kind store.Kind, version string) bool {
	latest, ok := c.Latest(kind)
	return !ok || latest == version
}

// Set records a new version for kind and persists the catalog.
func (c *Catalog) Set(kind store.Kind, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[kind] = version
	if c.path == "" {
		return nil
	}
	f := catalogFile{Versions: make(map[string]string, len(c.versions))}
	for k, v := range c.versions {
		f.Versions[string(k)] = v
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode firmware catalog: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("write firmware catalog: %w", err)
	}
	return nil
}

// All returns a copy of the catalog.
func (c *Catalog) All() map[store.Kind]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[store.Kind]string, len(c.versions))
	for k, v := range c.versions {
		out[k] = v
	}
	return out
}
