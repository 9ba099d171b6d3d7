package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour the store renders its queries in. Queries
// are written with Postgres-style $N placeholders and rebound for SQLite.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?$1")
}

// jsonParam renders a placeholder that the database reads as a JSON document.
func (d Dialect) jsonParam(n int) string {
	if d == DialectSQLite {
		return "$" + strconv.Itoa(n)
	}
	return "$" + strconv.Itoa(n) + "::jsonb"
}

// shareLock is appended to a single-row SELECT that must keep the row alive
// until the surrounding transaction ends.
func (d Dialect) shareLock() string {
	if d == DialectSQLite {
		return ""
	}
	return " FOR SHARE"
}

// updateLock is shareLock's exclusive form. It waits for, and then blocks,
// transactions holding the row FOR SHARE.
func (d Dialect) updateLock() string {
	if d == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// args accumulates positional query arguments and hands out placeholders.
type args struct {
	values []any
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

// in renders a parenthesised placeholder list for ids.
func (a *args) in(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = a.add(id)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
