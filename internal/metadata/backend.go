// Package metadata is the single view of session and file records that the
// rest of the relay depends on. The Durable backend is a record store; the
// Fallback backend reconstructs what it can from the blob directory layout
// when no record store is reachable at startup.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/marianozunino/relay/internal/db"
	"github.com/marianozunino/relay/internal/model"
)

var (
	ErrNotFound = db.ErrNotFound
	ErrPinTaken = db.ErrPinTaken
)

// Capabilities tells callers which guarantees a backend can honor
type Capabilities struct {
	Durable          bool `json:"durable"`
	PinLookup        bool `json:"pinLookup"`
	FileQuota        bool `json:"fileQuota"`
	DownloadCounting bool `json:"downloadCounting"`
}

type Backend interface {
	Capabilities() Capabilities

	CreateSession(ctx context.Context, s model.Session) error
	FindSessionByPin(ctx context.Context, pin string) (model.Session, error)
	VerifySession(ctx context.Context, id, pin string) (model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	DeactivateSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	ExpiredSessions(ctx context.Context, now time.Time) ([]model.Session, error)

	CreateFile(ctx context.Context, f model.File) error
	GetFile(ctx context.Context, id string) (model.File, error)
	GetFileByName(ctx context.Context, filename string) (model.File, error)
	ListFiles(ctx context.Context, sessionID string) ([]model.File, error)
	DeleteFile(ctx context.Context, id string) error
	IncrementDownloads(ctx context.Context, id string) error
	ExpiredFiles(ctx context.Context, now time.Time) ([]model.File, error)

	Stats(ctx context.Context, now time.Time) (model.Stats, error)
	Ping(ctx context.Context) error
}

// IsNotFound reports whether err means the record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
