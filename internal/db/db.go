package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/migration"
	"github.com/marianozunino/relay/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrPinTaken = errors.New("pin already held by an active session")
)

const (
	sessionColumns = `id, pin, created_at, expires_at, is_active, session_type, created_by, file_count, total_size`
	fileColumns    = `id, filename, original_name, size, mimetype, upload_date, expires_at, storage_path,
		session_id, session_pin, download_count, max_downloads, one_time_token`
)

// Store is the durable record store for sessions and files
type Store struct {
	*sqlx.DB
}

// Open connects to the record store. driver is "sqlite3" or "pgx".
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite3":
		return openSQLite(dsn)
	case "pgx":
		db, err := sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		return &Store{db}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

func openSQLite(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(path, "?") && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("database directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db}, nil
}

// Migrate brings the schema up to date
func (s *Store) Migrate(log *zap.Logger) error {
	m, err := migration.NewManagerWithDB(s.DB.DB, s.DriverName(), log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateSession inserts a session. Sessions that still hold the pin but have
// expired are retired in the same transaction; a live holder yields ErrPinTaken.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	now := time.Now().UTC()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE sessions SET is_active = ? WHERE pin = ? AND is_active = ? AND expires_at <= ?`),
			false, sess.Pin, true, now)
		if err != nil {
			return fmt.Errorf("failed to retire stale sessions: %w", err)
		}

		_, err = tx.NamedExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
			VALUES (:id, :pin, :created_at, :expires_at, :is_active, :session_type, :created_by, :file_count, :total_size)`, sess)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrPinTaken
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	var sess model.Session
	err := s.GetContext(ctx, &sess, s.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	return sess, notFound(err)
}

// FindSessionByPin returns the newest session that held the pin, active ones first
func (s *Store) FindSessionByPin(ctx context.Context, pin string) (model.Session, error) {
	var sess model.Session
	err := s.GetContext(ctx, &sess, s.Rebind(`SELECT `+sessionColumns+` FROM sessions
		WHERE pin = ? ORDER BY is_active DESC, created_at DESC LIMIT 1`), pin)
	return sess, notFound(err)
}

func (s *Store) VerifySession(ctx context.Context, id, pin string) (model.Session, error) {
	var sess model.Session
	err := s.GetContext(ctx, &sess, s.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND pin = ?`), id, pin)
	return sess, notFound(err)
}

func (s *Store) DeactivateSession(ctx context.Context, id string) error {
	_, err := s.ExecContext(ctx, s.Rebind(`UPDATE sessions SET is_active = ? WHERE id = ?`), false, id)
	return err
}

// DeleteSession removes a session and its file records
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM files WHERE session_id = ?`), id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
		return err
	})
}

// ExpiredSessions returns sessions past their expiry or no longer active
func (s *Store) ExpiredSessions(ctx context.Context, now time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := s.SelectContext(ctx, &sessions, s.Rebind(`SELECT `+sessionColumns+` FROM sessions
		WHERE expires_at <= ? OR is_active = ?`), now.UTC(), false)
	return sessions, err
}

// CreateFile inserts a file record and bumps the owning session's counters
// in one transaction. A missing session yields ErrNotFound.
func (s *Store) CreateFile(ctx context.Context, f model.File) error {
	f.UploadDate = f.UploadDate.UTC()
	f.ExpiresAt = f.ExpiresAt.UTC()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO files (`+fileColumns+`)
			VALUES (:id, :filename, :original_name, :size, :mimetype, :upload_date, :expires_at, :storage_path,
				:session_id, :session_pin, :download_count, :max_downloads, :one_time_token)`, f)
		if err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE sessions SET file_count = file_count + 1, total_size = total_size + ? WHERE id = ?`),
			f.Size, f.SessionID)
		if err != nil {
			return fmt.Errorf("failed to update session counters: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) GetFile(ctx context.Context, id string) (model.File, error) {
	var f model.File
	err := s.GetContext(ctx, &f, s.Rebind(`SELECT `+fileColumns+` FROM files WHERE id = ?`), id)
	return f, notFound(err)
}

func (s *Store) GetFileByName(ctx context.Context, filename string) (model.File, error) {
	var f model.File
	err := s.GetContext(ctx, &f, s.Rebind(`SELECT `+fileColumns+` FROM files WHERE filename = ?`), filename)
	return f, notFound(err)
}

// ListFiles returns a session's files, newest first
func (s *Store) ListFiles(ctx context.Context, sessionID string) ([]model.File, error) {
	files := []model.File{}
	err := s.SelectContext(ctx, &files, s.Rebind(`SELECT `+fileColumns+` FROM files
		WHERE session_id = ? ORDER BY upload_date DESC`), sessionID)
	return files, err
}

// DeleteFile removes a file record and decrements its session's counters
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var f model.File
		err := tx.GetContext(ctx, &f, tx.Rebind(`SELECT `+fileColumns+` FROM files WHERE id = ?`), id)
		if err != nil {
			return notFound(err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM files WHERE id = ?`), id); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE sessions SET
			file_count = CASE WHEN file_count > 0 THEN file_count - 1 ELSE 0 END,
			total_size = CASE WHEN total_size > ? THEN total_size - ? ELSE 0 END
			WHERE id = ?`), f.Size, f.Size, f.SessionID)
		return err
	})
}

func (s *Store) IncrementDownloads(ctx context.Context, id string) error {
	res, err := s.ExecContext(ctx, s.Rebind(`UPDATE files SET download_count = download_count + 1 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ExpiredFiles(ctx context.Context, now time.Time) ([]model.File, error) {
	var files []model.File
	err := s.SelectContext(ctx, &files, s.Rebind(`SELECT `+fileColumns+` FROM files WHERE expires_at <= ?`), now.UTC())
	return files, err
}

func (s *Store) Stats(ctx context.Context, now time.Time) (model.Stats, error) {
	var stats model.Stats
	now = now.UTC()

	queries := []struct {
		dest  any
		query string
		args  []any
	}{
		{&stats.TotalFiles, `SELECT COUNT(*) FROM files`, nil},
		{&stats.ExpiredFiles, `SELECT COUNT(*) FROM files WHERE expires_at <= ?`, []any{now}},
		{&stats.TotalSessions, `SELECT COUNT(*) FROM sessions`, nil},
		{&stats.ActiveSessions, `SELECT COUNT(*) FROM sessions WHERE is_active = ? AND expires_at > ?`, []any{true, now}},
		{&stats.TotalSize, `SELECT COALESCE(SUM(size), 0) FROM files`, nil},
	}
	for _, q := range queries {
		if err := s.GetContext(ctx, q.dest, s.Rebind(q.query), q.args...); err != nil {
			return stats, err
		}
	}
	stats.ExpiredSessions = stats.TotalSessions - stats.ActiveSessions
	return stats, nil
}
