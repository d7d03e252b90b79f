// Package database opens the SQL backends the router persists to and hides
// the placeholder differences between them.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour of a connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to url. postgres:// and postgresql:// URLs use lib/pq;
// sqlite:// URLs, ":memory:" and bare file paths use modernc sqlite.
func Open(ctx context.Context, url string) (*DB, error) {
	dialect, dsn := Parse(url)
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// Single writer keeps sqlite from returning SQLITE_BUSY under concurrent CAS updates.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// Wrap attaches a dialect to an existing handle, for tests using sqlmock.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, Dialect: dialect}
}

// Parse splits a connection URL into driver dialect and driver DSN.
func Parse(url string) (Dialect, string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, url
	case strings.HasPrefix(url, "sqlite://"):
		return SQLite, strings.TrimPrefix(url, "sqlite://")
	default:
		return SQLite, url
	}
}

// Rebind rewrites '?' placeholders to '$n' for Postgres. Queries must not
// contain literal question marks.
func (db *DB) Rebind(query string) string {
	return Rebind(db.Dialect, query)
}

// Rebind is the dialect-explicit form of DB.Rebind.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// JSONType is the column type used for JSON documents.
func (db *DB) JSONType() string {
	if db.Dialect == Postgres {
		return "JSONB"
	}
	return "TEXT"
}
