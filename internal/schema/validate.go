package schema

import (
	"strings"

	"resource-orm/internal/ormerr"
)

// New validates def, fills defaults, and returns the frozen definition.
// Zero limits mean "use the default": DefaultLimit 100, MaxLimit -1, MaxRelatedDepth 3.
func New(def Definition) (*Definition, error) {
	d := def
	if strings.TrimSpace(d.Name) == "" {
		return nil, ormerr.InvalidConfiguration("resource name is required")
	}
	if strings.TrimSpace(d.Table) == "" {
		return nil, ormerr.InvalidConfiguration("resource %s: table is required", d.Name)
	}
	if d.PrimaryKey == "" {
		return nil, ormerr.InvalidConfiguration("resource %s: primary key is required", d.Name)
	}
	if d.CursorField == "" {
		d.CursorField = d.PrimaryKey
	}
	if d.DefaultLimit == 0 {
		d.DefaultLimit = DefaultLimit
	}
	if d.MaxLimit == 0 {
		d.MaxLimit = DefaultMaxLimit
	}
	if d.MaxRelatedDepth == 0 {
		d.MaxRelatedDepth = DefaultMaxRelatedDepth
	}
	if d.WritableFields == nil {
		d.WritableFields = map[string]string{}
	}
	if d.RelatedFields == nil {
		d.RelatedFields = map[string]string{}
	}

	d.readable = toSet(d.ReadableFields)
	d.required = toSet(d.RequiredFields)
	d.omitted = toSet(d.OmittedFields)

	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Definition) validate() error {
	if _, ok := d.readable[d.PrimaryKey]; !ok {
		return ormerr.InvalidConfiguration("resource %s: primary key %s is not readable", d.Name, d.PrimaryKey)
	}
	if _, ok := d.readable[d.CursorField]; !ok {
		return ormerr.InvalidConfiguration("resource %s: cursor field %s is not readable", d.Name, d.CursorField)
	}
	for _, field := range d.SearchFields {
		if _, ok := d.readable[field]; !ok {
			return ormerr.InvalidConfiguration("resource %s: search field %s is not readable", d.Name, field)
		}
	}
	for _, field := range d.ReadableFields {
		if field == "" || strings.Contains(field, ".") || IsJSONPath(field) || field == "*" {
			return ormerr.InvalidConfiguration("resource %s: invalid readable field %q", d.Name, field)
		}
	}
	for _, field := range d.RequiredFields {
		if !d.IsWritable(field) {
			return ormerr.InvalidConfiguration("resource %s: required field %s is not writable", d.Name, field)
		}
	}
	for col := range d.RelatedFields {
		if _, ok := d.readable[col]; !ok && !d.IsWritable(col) {
			return ormerr.InvalidConfiguration("resource %s: related field %s is neither readable nor writable", d.Name, col)
		}
	}
	for _, u := range d.UniqueConstraints {
		if len(u) == 0 {
			return ormerr.InvalidConfiguration("resource %s: empty unique constraint", d.Name)
		}
		for _, field := range u {
			if !d.IsWritable(field) && field != d.PrimaryKey {
				return ormerr.InvalidConfiguration("resource %s: unique field %s is not writable", d.Name, field)
			}
		}
	}
	for _, field := range d.ConflictKeys {
		if _, ok := d.readable[field]; !ok && !d.IsWritable(field) {
			return ormerr.InvalidConfiguration("resource %s: conflict key %s is unknown", d.Name, field)
		}
	}
	if f := d.NullableJSONField; f != "" {
		if _, ok := d.readable[f]; !ok || !d.IsWritable(f) {
			return ormerr.InvalidConfiguration("resource %s: nullable json field %s must be readable and writable", d.Name, f)
		}
	}
	if d.DefaultLimit < 0 {
		return ormerr.InvalidConfiguration("resource %s: default limit must be positive", d.Name)
	}
	if d.MaxLimit < Unlimited {
		return ormerr.InvalidConfiguration("resource %s: max limit must be -1 or greater", d.Name)
	}
	if d.MaxRelatedDepth < 0 {
		return ormerr.InvalidConfiguration("resource %s: max related depth must be positive", d.Name)
	}

	seen := map[string]bool{}
	for _, b := range d.Behaviors {
		name := b.behaviorName()
		if seen[name] {
			return ormerr.InvalidConfiguration("resource %s: behavior %s declared twice", d.Name, name)
		}
		seen[name] = true
		if strings.TrimSpace(b.field()) == "" {
			return ormerr.InvalidConfiguration("resource %s: behavior %s requires a field", d.Name, name)
		}
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
