package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		url     string
		dialect Dialect
		dsn     string
	}{
		{"postgres://u:p@localhost/aatp?sslmode=disable", Postgres, "postgres://u:p@localhost/aatp?sslmode=disable"},
		{"postgresql://localhost/aatp", Postgres, "postgresql://localhost/aatp"},
		{"sqlite://data/aatp.db", SQLite, "data/aatp.db"},
		{":memory:", SQLite, ":memory:"},
		{"aatp.db", SQLite, "aatp.db"},
	}
	for _, tt := range tests {
		d, dsn := Parse(tt.url)
		assert.Equal(t, tt.dialect, d, tt.url)
		assert.Equal(t, tt.dsn, dsn, tt.url)
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE approvals SET status = ? WHERE approval_id = ? AND status = ?"
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, "UPDATE approvals SET status = $1 WHERE approval_id = $2 AND status = $3", Rebind(Postgres, q))
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, SQLite, db.Dialect)
	assert.Equal(t, "TEXT", db.JSONType())
	_, err = db.ExecContext(context.Background(), "CREATE TABLE t (id TEXT PRIMARY KEY)")
	require.NoError(t, err)
}
