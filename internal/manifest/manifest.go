// Package manifest loads resource definitions from a YAML document.
//
// A manifest lists resources under a top-level "resources" key. Unknown keys
// are rejected so typos surface at load time instead of as silently ignored
// configuration.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"resource-orm/internal/naming"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/schema"
)

// Document is the top-level manifest shape.
type Document struct {
	Naming    naming.Config `yaml:"naming"`
	Resources []Resource    `yaml:"resources"`
}

// Resource is the YAML form of schema.Definition.
type Resource struct {
	Name              string                 `yaml:"name"`
	Table             string                 `yaml:"table"`
	PrimaryKey        string                 `yaml:"primary_key"`
	CursorField       string                 `yaml:"cursor_field"`
	Readable          []string               `yaml:"readable"`
	Writable          map[string]string      `yaml:"writable"`
	Required          []string               `yaml:"required"`
	Related           map[string]string      `yaml:"related"`
	Unique            [][]string             `yaml:"unique"`
	Search            []string               `yaml:"search"`
	Defaults          map[string]interface{} `yaml:"defaults"`
	Mutators          map[string][]string    `yaml:"mutators"`
	Accessors         map[string][]string    `yaml:"accessors"`
	Omitted           []string               `yaml:"omitted"`
	NullableJSONField string                 `yaml:"nullable_json_field"`
	MaxRelatedDepth   int                    `yaml:"max_related_depth"`
	DefaultLimit      int                    `yaml:"default_limit"`
	MaxLimit          int                    `yaml:"max_limit"`
	ConflictKeys      []string               `yaml:"conflict_keys"`
	SoftDelete        string                 `yaml:"soft_delete"`
	Prune             string                 `yaml:"prune"`
}

// Defaults fill limits a resource leaves unset. Zero values defer to the
// schema package defaults.
type Defaults struct {
	DefaultLimit    int
	MaxLimit        int
	MaxRelatedDepth int
}

// Manifest is a loaded registry plus the fingerprint of the bytes it came from.
type Manifest struct {
	Registry    *schema.Registry
	Fingerprint string
}

// LoadFile reads and parses the manifest at path.
func LoadFile(path string, defaults Defaults) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := Parse(data, defaults)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest and builds its registry.
func Parse(data []byte, defaults Defaults) (*Manifest, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, ormerr.Wrap(ormerr.KindInvalidConfiguration, err, "invalid manifest")
	}
	if len(doc.Resources) == 0 {
		return nil, ormerr.InvalidConfiguration("manifest declares no resources")
	}

	namer := naming.New(doc.Naming)
	defs := make([]*schema.Definition, 0, len(doc.Resources))
	for i, res := range doc.Resources {
		def, err := res.Definition(namer, defaults)
		if err != nil {
			return nil, fmt.Errorf("resource #%d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	reg, err := schema.NewRegistry(defs...)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &Manifest{Registry: reg, Fingerprint: hex.EncodeToString(sum[:])}, nil
}

// Definition converts r into a validated schema definition. The table
// defaults to the pluralized snake_case resource name.
func (r Resource) Definition(namer *naming.Namer, defaults Defaults) (*schema.Definition, error) {
	table := strings.TrimSpace(r.Table)
	if table == "" {
		table = namer.TableName(r.Name)
	}
	primaryKey := r.PrimaryKey
	if primaryKey == "" {
		primaryKey = "id"
	}

	def := schema.Definition{
		Name:              r.Name,
		Table:             table,
		PrimaryKey:        primaryKey,
		CursorField:       r.CursorField,
		ReadableFields:    r.Readable,
		WritableFields:    r.Writable,
		RequiredFields:    r.Required,
		RelatedFields:     r.Related,
		SearchFields:      r.Search,
		DefaultValues:     r.Defaults,
		Mutators:          r.Mutators,
		Accessors:         r.Accessors,
		OmittedFields:     r.Omitted,
		NullableJSONField: r.NullableJSONField,
		MaxRelatedDepth:   firstNonZero(r.MaxRelatedDepth, defaults.MaxRelatedDepth),
		DefaultLimit:      firstNonZero(r.DefaultLimit, defaults.DefaultLimit),
		MaxLimit:          firstNonZero(r.MaxLimit, defaults.MaxLimit),
		ConflictKeys:      r.ConflictKeys,
	}
	for _, u := range r.Unique {
		def.UniqueConstraints = append(def.UniqueConstraints, schema.Unique(u))
	}
	if r.SoftDelete != "" {
		def.Behaviors = append(def.Behaviors, schema.SoftDelete{Field: r.SoftDelete})
	}
	if r.Prune != "" {
		def.Behaviors = append(def.Behaviors, schema.Prune{Field: r.Prune})
	}
	return schema.New(def)
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
