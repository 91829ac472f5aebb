package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/marianozunino/relay/internal/migration"
	_ "github.com/mattn/go-sqlite3"
)

// RunTestMigrations applies the embedded schema to the SQLite database at dbPath
func RunTestMigrations(dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := migration.NewManagerWithDB(db, "sqlite3", nil)
	if err != nil {
		return err
	}
	return m.Up()
}

// TempSQLitePath returns a database path inside a per-test directory
func TempSQLitePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// PostgresDSN returns the DSN of a scratch PostgreSQL database, skipping the
// test when RELAY_TEST_PG_DSN is not set.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("RELAY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_PG_DSN not set")
	}
	return dsn
}

// RedisAddr returns the address of a scratch Redis, skipping the test when
// RELAY_TEST_REDIS_ADDR is not set.
func RedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}
	return addr
}
