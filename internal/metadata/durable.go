package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/db"
	"github.com/marianozunino/relay/internal/model"
)

// Durable serves records from the SQL record store
type Durable struct {
	store *db.Store
}

func NewDurable(store *db.Store) *Durable {
	return &Durable{store: store}
}

// Probe opens, pings and migrates the record store
func Probe(driver, dsn string, log *zap.Logger) (*Durable, error) {
	store, err := db.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	if err := store.Migrate(log); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate record store: %w", err)
	}
	return NewDurable(store), nil
}

func (d *Durable) Close() error {
	return d.store.Close()
}

func (d *Durable) Capabilities() Capabilities {
	return Capabilities{
		Durable:          true,
		PinLookup:        true,
		FileQuota:        true,
		DownloadCounting: true,
	}
}

// classify keeps the sentinel errors callers branch on and reports
// everything else as an unavailable store
func classify(err error) error {
	if err == nil || errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrPinTaken) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(apperr.StorageUnavailable, "record store unavailable", err)
}

func (d *Durable) CreateSession(ctx context.Context, s model.Session) error {
	return classify(d.store.CreateSession(ctx, s))
}

func (d *Durable) FindSessionByPin(ctx context.Context, pin string) (model.Session, error) {
	s, err := d.store.FindSessionByPin(ctx, pin)
	return s, classify(err)
}

func (d *Durable) VerifySession(ctx context.Context, id, pin string) (model.Session, error) {
	s, err := d.store.VerifySession(ctx, id, pin)
	return s, classify(err)
}

func (d *Durable) GetSession(ctx context.Context, id string) (model.Session, error) {
	s, err := d.store.GetSession(ctx, id)
	return s, classify(err)
}

func (d *Durable) DeactivateSession(ctx context.Context, id string) error {
	return classify(d.store.DeactivateSession(ctx, id))
}

func (d *Durable) DeleteSession(ctx context.Context, id string) error {
	return classify(d.store.DeleteSession(ctx, id))
}

func (d *Durable) ExpiredSessions(ctx context.Context, now time.Time) ([]model.Session, error) {
	s, err := d.store.ExpiredSessions(ctx, now)
	return s, classify(err)
}

func (d *Durable) CreateFile(ctx context.Context, f model.File) error {
	return classify(d.store.CreateFile(ctx, f))
}

func (d *Durable) GetFile(ctx context.Context, id string) (model.File, error) {
	f, err := d.store.GetFile(ctx, id)
	return f, classify(err)
}

func (d *Durable) GetFileByName(ctx context.Context, filename string) (model.File, error) {
	f, err := d.store.GetFileByName(ctx, filename)
	return f, classify(err)
}

func (d *Durable) ListFiles(ctx context.Context, sessionID string) ([]model.File, error) {
	f, err := d.store.ListFiles(ctx, sessionID)
	return f, classify(err)
}

func (d *Durable) DeleteFile(ctx context.Context, id string) error {
	return classify(d.store.DeleteFile(ctx, id))
}

func (d *Durable) IncrementDownloads(ctx context.Context, id string) error {
	return classify(d.store.IncrementDownloads(ctx, id))
}

func (d *Durable) ExpiredFiles(ctx context.Context, now time.Time) ([]model.File, error) {
	f, err := d.store.ExpiredFiles(ctx, now)
	return f, classify(err)
}

func (d *Durable) Stats(ctx context.Context, now time.Time) (model.Stats, error) {
	s, err := d.store.Stats(ctx, now)
	return s, classify(err)
}

func (d *Durable) Ping(ctx context.Context) error {
	return classify(d.store.Ping(ctx))
}
