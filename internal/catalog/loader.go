// Package catalog holds the global permission catalog: the grouped set of
// capability identifiers every tenant's roles and plans draw from.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

type catalogFile struct {
	Version      string   `yaml:"version"`
	SystemGroups []string `yaml:"system_groups"`
	Groups       []Group  `yaml:"groups"`
}

// Load parses a YAML catalog document.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decoding yaml: %v", ErrInvalidCatalog, err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidCatalog)
	}
	return New(f.Version, f.Groups, f.SystemGroups)
}

// LoadFile loads the catalog at path, or the embedded default when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}
