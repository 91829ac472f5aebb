// Package blob stores uploaded file contents under <root>/<sessionId>/.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// sessionMarker records when a session folder was created. The folder's own
// mtime moves every time a file is added, so it cannot date the session.
const sessionMarker = ".session"

var (
	ErrInvalidName = errors.New("invalid blob name")
	ErrTooLarge    = errors.New("blob exceeds size limit")
)

type Store struct {
	fs   afero.Fs
	root string
}

func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOS returns a Store backed by the host filesystem
func NewOS(root string) *Store {
	return New(afero.NewOsFs(), root)
}

func (s *Store) Root() string {
	return s.root
}

func validName(name string) bool {
	return name != "" &&
		name != "." &&
		name != ".." &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.HasPrefix(name, ".")
}

func (s *Store) dir(sessionID string) (string, error) {
	if sessionID == "" {
		return s.root, nil
	}
	if !validName(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}

// Path returns where a blob lives. An empty sessionID addresses the root.
func (s *Store) Path(sessionID, filename string) (string, error) {
	dir, err := s.dir(sessionID)
	if err != nil {
		return "", err
	}
	if !validName(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	return filepath.Join(dir, filename), nil
}

// Init creates the root directory
func (s *Store) Init() error {
	return s.fs.MkdirAll(s.root, 0o755)
}

// CreateSession creates the session folder and its creation marker
func (s *Store) CreateSession(sessionID string) error {
	dir, err := s.dir(sessionID)
	if err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidName)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session folder: %w", err)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(dir, sessionMarker), nil, 0o644); err != nil {
		return fmt.Errorf("failed to write session marker: %w", err)
	}
	return nil
}

// SessionExists reports whether the session folder is present
func (s *Store) SessionExists(sessionID string) (bool, error) {
	dir, err := s.dir(sessionID)
	if err != nil || sessionID == "" {
		return false, err
	}
	return afero.DirExists(s.fs, dir)
}

// SessionCreated returns when the session folder was created
func (s *Store) SessionCreated(sessionID string) (time.Time, error) {
	dir, err := s.dir(sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if info, err := s.fs.Stat(filepath.Join(dir, sessionMarker)); err == nil {
		return info.ModTime(), nil
	}
	info, err := s.fs.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Sessions lists the session folder names under the root
func (s *Store) Sessions() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && validName(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// RemoveSession deletes the session folder and everything in it
func (s *Store) RemoveSession(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidName)
	}
	dir, err := s.dir(sessionID)
	if err != nil {
		return err
	}
	return s.fs.RemoveAll(dir)
}

// Write copies r into a new blob. With limit > 0, at most limit+1 bytes are
// read and the blob is removed when the input turns out to be larger.
func (s *Store) Write(sessionID, filename string, r io.Reader, limit int64) (int64, error) {
	p, err := s.Path(sessionID, filename)
	if err != nil {
		return 0, err
	}

	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create blob: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = s.fs.Remove(p)
		return n, fmt.Errorf("failed to write blob: %w", copyErr)
	case closeErr != nil:
		_ = s.fs.Remove(p)
		return n, fmt.Errorf("failed to close blob: %w", closeErr)
	case limit > 0 && n > limit:
		_ = s.fs.Remove(p)
		return n, ErrTooLarge
	}

	return n, nil
}

// Open opens a blob for reading
func (s *Store) Open(sessionID, filename string) (afero.File, os.FileInfo, error) {
	p, err := s.Path(sessionID, filename)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %q is a directory", ErrInvalidName, filename)
	}
	return f, info, nil
}

func (s *Store) Stat(sessionID, filename string) (os.FileInfo, error) {
	p, err := s.Path(sessionID, filename)
	if err != nil {
		return nil, err
	}
	return s.fs.Stat(p)
}

// Delete removes a blob. A blob that is already gone is not an error.
func (s *Store) Delete(sessionID, filename string) error {
	p, err := s.Path(sessionID, filename)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the blobs of a session, skipping bookkeeping files
func (s *Store) List(sessionID string) ([]os.FileInfo, error) {
	dir, err := s.dir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}

	files := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !validName(entry.Name()) {
			continue
		}
		files = append(files, entry)
	}
	return files, nil
}
