package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Catalog is the fixed taxonomy the classifier must choose from: the known
// figures of the original 2007-2012 toy line, loaded from a JSON file.
type Catalog struct {
	Entries []CatalogEntry
	names   map[string]string // normalized -> canonical
}

type CatalogEntry struct {
	Name   string `json:"name"`
	Series string `json:"series"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog json: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog %s contains no entries", path)
	}

	c := &Catalog{Entries: entries, names: make(map[string]string, len(entries))}
	for _, e := range entries {
		c.names[normalizeTextToken(e.Name)] = e.Name
	}
	return c, nil
}

// Names returns the canonical figure names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		out = append(out, e.Name)
	}
	return out
}

// Contains reports whether name is a catalog entry. "Unknown" is the
// classifier's reserved answer for unclear images and always passes.
func (c *Catalog) Contains(name string) bool {
	norm := normalizeTextToken(name)
	if norm == "unknown" {
		return true
	}
	_, ok := c.names[norm]
	return ok
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
