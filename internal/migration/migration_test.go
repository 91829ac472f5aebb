package migration

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestUpCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	m, err := NewManagerWithDB(db, "sqlite3", nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	assert.True(t, tableExists(t, db, "sessions"))
	assert.True(t, tableExists(t, db, "files"))

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Running again is a no-op
	assert.NoError(t, m.Up())
}

func TestDownAndForce(t *testing.T) {
	db := openTestDB(t)

	m, err := NewManagerWithDB(db, "sqlite3", nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	require.NoError(t, m.Down())
	assert.False(t, tableExists(t, db, "files"))
	assert.True(t, tableExists(t, db, "sessions"))

	version, _, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.MigrateToVersion(2))
	assert.True(t, tableExists(t, db, "files"))

	require.NoError(t, m.Force(1))
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestActivePinIndex(t *testing.T) {
	db := openTestDB(t)

	m, err := NewManagerWithDB(db, "sqlite3", nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	insert := `INSERT INTO sessions (id, pin, created_at, expires_at, is_active) VALUES (?, '123456', datetime('now'), datetime('now', '+1 day'), ?)`

	_, err = db.Exec(insert, "sess_a", true)
	require.NoError(t, err)

	_, err = db.Exec(insert, "sess_b", true)
	assert.Error(t, err, "second active holder of a pin must be rejected")

	_, err = db.Exec(insert, "sess_c", false)
	assert.NoError(t, err, "inactive sessions may share a pin")
}

func TestUnknownDriver(t *testing.T) {
	db := openTestDB(t)

	m, err := NewManagerWithDB(db, "mysql", nil)
	assert.Error(t, err)
	assert.Nil(t, m)
}
