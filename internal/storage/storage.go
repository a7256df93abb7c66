// Package storage is the SQL sink for game/broker metadata and the
// extraction ledger. sqlite is the default; postgres is selectable.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB and the dialect it speaks.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	qb      *QueryBuilder
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	return OpenDialect(DialectSQLite, path)
}

// OpenDialect opens a database of the given dialect. For sqlite dsn is a file
// path (":memory:" for tests); for postgres it is a lib/pq connection string.
func OpenDialect(t DialectType, dsn string) (*DB, error) {
	d := NewDialect(t)
	if t != DialectPostgres && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if t != DialectPostgres {
		// each pooled connection to ":memory:" would be a separate database
		conn.SetMaxOpenConns(1)
	}
	for _, stmt := range d.InitStatements() {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("init %q: %w", stmt, err)
		}
	}
	db := &DB{conn: conn, dialect: d, qb: NewQueryBuilder(d)}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dialect reports which SQL dialect the sink speaks.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS game (
			id TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			length INTEGER NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS broker (
			id %s,
			name TEXT UNIQUE NOT NULL
		)`, db.dialect.SerialKey()),
		`CREATE TABLE IF NOT EXISTS broker_game (
			broker_id INTEGER NOT NULL REFERENCES broker(id),
			game_id TEXT NOT NULL REFERENCES game(id) ON DELETE CASCADE,
			game_broker_id INTEGER NOT NULL,
			PRIMARY KEY (broker_id, game_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS extraction (
			id %s,
			game_id TEXT NOT NULL,
			prefix TEXT NOT NULL,
			path TEXT NOT NULL,
			cached INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		)`, db.dialect.SerialKey()),
		`CREATE INDEX IF NOT EXISTS idx_extraction_game ON extraction(game_id, prefix)`,
		`CREATE TABLE IF NOT EXISTS broker_accounting (
			game_id TEXT NOT NULL,
			broker TEXT NOT NULL,
			item TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (game_id, broker, item)
		)`,
	}
	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// QueryRaw runs an arbitrary query and returns every cell as a string.
// NULLs render as "NULL".
func (db *DB) QueryRaw(query string) ([]string, [][]string, error) {
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
