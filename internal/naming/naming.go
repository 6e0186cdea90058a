// Package naming derives table names from resource names.
package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Config lists irregular plurals the inflection rules get wrong for a
// schema, keyed by singular word: {"person": "folk", "status": "statuses"}.
type Config struct {
	Plurals map[string]string `yaml:"plurals" mapstructure:"plurals"`
}

// Namer pluralizes and singularizes the last word of snake_case names.
type Namer struct {
	plural   map[string]string
	singular map[string]string
}

func New(cfg Config) *Namer {
	n := &Namer{
		plural:   make(map[string]string, len(cfg.Plurals)),
		singular: make(map[string]string, len(cfg.Plurals)),
	}
	for one, many := range cfg.Plurals {
		one, many = strings.ToLower(one), strings.ToLower(many)
		n.plural[one] = many
		n.singular[many] = one
	}
	return n
}

// Default uses the inflection rules alone.
func Default() *Namer {
	return New(Config{})
}

// TableName derives the default table for a resource name.
// "BlogPost" becomes "blog_posts" and "person" becomes "people".
func (n *Namer) TableName(resource string) string {
	return mapLastWord(ToSnakeCase(resource), n.Pluralize)
}

// ResourceName is the inverse of TableName for snake_case input.
func (n *Namer) ResourceName(table string) string {
	return mapLastWord(table, n.Singularize)
}

func (n *Namer) Pluralize(word string) string {
	if many, ok := n.plural[word]; ok {
		return many
	}
	return inflection.Plural(word)
}

func (n *Namer) Singularize(word string) string {
	if one, ok := n.singular[word]; ok {
		return one
	}
	return inflection.Singular(word)
}

func mapLastWord(name string, fn func(string) string) string {
	if name == "" {
		return ""
	}
	i := strings.LastIndexByte(name, '_')
	return name[:i+1] + fn(name[i+1:])
}

// ToSnakeCase converts PascalCase, camelCase, kebab-case, dotted or spaced
// names to snake_case. Acronyms stay together: "HTTPRequest" is "http_request".
func ToSnakeCase(s string) string {
	runes := []rune(strings.TrimSpace(s))
	var b strings.Builder
	underscore := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
			b.WriteByte('_')
		}
	}
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.':
			underscore()
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					underscore()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}
