package sqlutil

import (
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the SQL differences between supported drivers.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var jsonPathSegment = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ParseDialect resolves a configured driver name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mysql", "tidb", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "pgx"
	default:
		return "mysql"
	}
}

// Quote quotes an identifier.
func (d Dialect) Quote(name string) string {
	if d == Postgres {
		return QuoteDoubleIdentifier(name)
	}
	return QuoteIdentifier(name)
}

// QuoteColumn quotes an optionally qualified column reference.
func (d Dialect) QuoteColumn(qualifier, column string) string {
	if qualifier == "" {
		return d.Quote(column)
	}
	return d.Quote(qualifier) + "." + d.Quote(column)
}

// Placeholder returns the bind-parameter format for the dialect.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// SupportsLastInsertID reports whether sql.Result.LastInsertId is usable.
func (d Dialect) SupportsLastInsertID() bool {
	return d != Postgres
}

// TextExpr coerces expr to text for LIKE and LOWER. Postgres has no implicit
// cast from numeric or temporal types.
func (d Dialect) TextExpr(expr string) string {
	if d == Postgres {
		return "CAST(" + expr + " AS TEXT)"
	}
	return expr
}

// JSONExtract returns an expression reading a text value at path inside a JSON column.
// Path segments must be simple identifiers or array indexes.
func (d Dialect) JSONExtract(column string, path []string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("json path is empty")
	}
	for _, seg := range path {
		if !jsonPathSegment.MatchString(seg) {
			return "", fmt.Errorf("invalid json path segment %q", seg)
		}
	}
	switch d {
	case Postgres:
		return fmt.Sprintf("%s #>> %s", column, QuoteString("{"+strings.Join(path, ",")+"}")), nil
	case SQLite:
		return fmt.Sprintf("json_extract(%s, %s)", column, QuoteString("$."+strings.Join(path, "."))), nil
	default:
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, %s))", column, QuoteString("$."+strings.Join(path, "."))), nil
	}
}

// UpsertSuffix returns the conflict clause appended to an INSERT so that a row
// colliding on conflictKeys is overwritten with the inserted values of updateCols.
func (d Dialect) UpsertSuffix(conflictKeys, updateCols []string) string {
	if d == MySQL {
		if len(updateCols) == 0 {
			key := d.Quote(conflictKeys[0])
			return fmt.Sprintf("ON DUPLICATE KEY UPDATE %s = %s", key, key)
		}
		sets := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := d.Quote(col)
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}

	keys := make([]string, len(conflictKeys))
	for i, key := range conflictKeys {
		keys[i] = d.Quote(key)
	}
	if len(updateCols) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
	}
	sets := make([]string, len(updateCols))
	for i, col := range updateCols {
		q := d.Quote(col)
		sets[i] = fmt.Sprintf("%s = excluded.%s", q, q)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
}
