// Package schema holds the static, per-resource configuration consumed by the
// query compiler and the lifecycle orchestrator. Definitions are validated once
// by New and are read-only afterwards, so a single instance can be shared by
// every request.
package schema

import (
	"sort"
	"strings"
)

const (
	DefaultLimit           = 100
	DefaultMaxLimit        = -1
	DefaultMaxRelatedDepth = 3

	// Unlimited disables a limit when used as MaxLimit or as a requested limit.
	Unlimited = -1

	// JSONPathSeparator separates a JSON column from the path inside it.
	JSONPathSeparator = "->"
)

// Unique is a uniqueness constraint over one or more fields.
type Unique []string

// Composite reports whether the constraint spans more than one field.
func (u Unique) Composite() bool {
	return len(u) > 1
}

// Behavior is an optional capability attached to a resource.
type Behavior interface {
	behaviorName() string
	field() string
}

// SoftDelete hides rows by setting a nullable timestamp column instead of
// removing them.
type SoftDelete struct {
	Field string
}

func (SoftDelete) behaviorName() string { return "soft_delete" }
func (s SoftDelete) field() string      { return s.Field }

// Prune removes rows whose timestamp column is older than a cutoff.
type Prune struct {
	Field string
}

func (Prune) behaviorName() string { return "prune" }
func (p Prune) field() string      { return p.Field }

// Definition describes one resource type.
type Definition struct {
	Name        string
	Table       string
	PrimaryKey  string
	CursorField string

	ReadableFields []string
	// WritableFields maps each writable field to its validation rule string.
	WritableFields map[string]string
	RequiredFields []string
	// RelatedFields maps a local column to the name of the resource it references.
	RelatedFields     map[string]string
	UniqueConstraints []Unique
	SearchFields      []string
	DefaultValues     map[string]interface{}
	// Mutators and Accessors map a field to transform names applied on write and read.
	Mutators      map[string][]string
	Accessors     map[string][]string
	OmittedFields []string
	// NullableJSONField names a readable, writable column holding a flat JSON
	// object whose keys are removed by writing null.
	NullableJSONField string

	MaxRelatedDepth int
	DefaultLimit    int
	// MaxLimit caps requested page sizes. Zero means unset and becomes
	// Unlimited, so there is no way to express a cap of zero rows; use a
	// positive value to bound pages.
	MaxLimit int

	// ConflictKeys are the columns that define an upsert conflict.
	// Empty means the primary key plus every single-field unique constraint.
	ConflictKeys []string

	Behaviors []Behavior

	readable map[string]struct{}
	required map[string]struct{}
	omitted  map[string]struct{}
}

// IsReadable reports whether field may be exposed. JSON paths are checked by
// their base column.
func (d *Definition) IsReadable(field string) bool {
	_, ok := d.readable[BaseField(field)]
	return ok
}

// IsWritable reports whether field may be written.
func (d *Definition) IsWritable(field string) bool {
	_, ok := d.WritableFields[field]
	return ok
}

// IsRequired reports whether field must be supplied on create.
func (d *Definition) IsRequired(field string) bool {
	_, ok := d.required[field]
	return ok
}

// IsOmitted reports whether field is stripped from read results.
func (d *Definition) IsOmitted(field string) bool {
	_, ok := d.omitted[field]
	return ok
}

// Rule returns the validation rule for a writable field.
func (d *Definition) Rule(field string) string {
	return d.WritableFields[field]
}

// Related returns the resource name referenced by a local column.
func (d *Definition) Related(field string) (string, bool) {
	name, ok := d.RelatedFields[field]
	return name, ok
}

// RelatedColumns returns the related local columns in stable order.
func (d *Definition) RelatedColumns() []string {
	cols := make([]string, 0, len(d.RelatedFields))
	for col := range d.RelatedFields {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// WritableColumns returns the writable field names in stable order.
func (d *Definition) WritableColumns() []string {
	cols := make([]string, 0, len(d.WritableFields))
	for col := range d.WritableFields {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// EffectiveSearchFields returns SearchFields, or every readable field when none are declared.
func (d *Definition) EffectiveSearchFields() []string {
	if len(d.SearchFields) > 0 {
		return d.SearchFields
	}
	return d.ReadableFields
}

// EffectiveConflictKeys returns the upsert conflict columns.
func (d *Definition) EffectiveConflictKeys() []string {
	if len(d.ConflictKeys) > 0 {
		return d.ConflictKeys
	}
	keys := []string{d.PrimaryKey}
	for _, u := range d.UniqueConstraints {
		if !u.Composite() && u[0] != d.PrimaryKey {
			keys = append(keys, u[0])
		}
	}
	return keys
}

// SoftDelete returns the soft-delete capability when the resource declares it.
func (d *Definition) SoftDelete() (SoftDelete, bool) {
	for _, b := range d.Behaviors {
		if sd, ok := b.(SoftDelete); ok {
			return sd, true
		}
	}
	return SoftDelete{}, false
}

// Prune returns the prune capability when the resource declares it.
func (d *Definition) Prune() (Prune, bool) {
	for _, b := range d.Behaviors {
		if p, ok := b.(Prune); ok {
			return p, true
		}
	}
	return Prune{}, false
}

// BaseField strips a JSON path from a field name.
// Example: "meta->address.city" -> "meta"
func BaseField(field string) string {
	if idx := strings.Index(field, JSONPathSeparator); idx >= 0 {
		return field[:idx]
	}
	return field
}

// IsJSONPath reports whether field addresses a path inside a JSON column.
func IsJSONPath(field string) bool {
	return strings.Contains(field, JSONPathSeparator)
}
