package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect covers the SQL differences between the sqlite and postgres sinks.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string
	// Placeholder returns the parameter marker for a 1-indexed position.
	Placeholder(position int) string
	// SerialKey is the column definition for an auto-assigned integer key.
	SerialKey() string
	// InitStatements run once per connection pool before migrations.
	InitStatements() []string
	IsDuplicateKeyError(err error) bool
}

// DialectType names a Dialect in configuration.
type DialectType string

const (
	DialectSQLite   DialectType = "sqlite"
	DialectPostgres DialectType = "postgres"
)

// NewDialect returns the Dialect for t; unknown names fall back to sqlite.
func NewDialect(t DialectType) Dialect {
	if t == DialectPostgres {
		return &PostgresDialect{}
	}
	return &SQLiteDialect{}
}

// SQLiteDialect drives modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string              { return "sqlite" }
func (d *SQLiteDialect) Placeholder(position int) string { return "?" }
func (d *SQLiteDialect) SerialKey() string               { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (d *SQLiteDialect) InitStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
}

func (d *SQLiteDialect) IsDuplicateKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// PostgresDialect drives github.com/lib/pq.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string { return "postgres" }

func (d *PostgresDialect) Placeholder(position int) string {
	return "$" + strconv.Itoa(position)
}

func (d *PostgresDialect) SerialKey() string        { return "SERIAL PRIMARY KEY" }
func (d *PostgresDialect) InitStatements() []string { return nil }

// IsDuplicateKeyError checks for SQLSTATE 23505 (unique_violation).
func (d *PostgresDialect) IsDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// QueryBuilder rewrites "?" placeholders for the target dialect.
type QueryBuilder struct {
	dialect Dialect
}

func NewQueryBuilder(d Dialect) *QueryBuilder {
	return &QueryBuilder{dialect: d}
}

// Build returns query with each "?" replaced by the dialect's placeholder.
// Question marks inside single-quoted literals are left alone.
func (qb *QueryBuilder) Build(query string) string {
	if _, ok := qb.dialect.(*SQLiteDialect); ok {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	position := 1
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			b.WriteString(qb.dialect.Placeholder(position))
			position++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
