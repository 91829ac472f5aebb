package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/model"
)

// Fallback derives sessions and files from the blob store alone. It cannot
// look sessions up by pin, check pins, count downloads or persist anything,
// so record writes are no-ops and pin checks degrade to folder existence.
type Fallback struct {
	blobs        *blob.Store
	sessionTTL   time.Duration
	fileTTL      time.Duration
	maxDownloads int
	log          *zap.Logger
}

func NewFallback(blobs *blob.Store, sessionTTL, fileTTL time.Duration, maxDownloads int, log *zap.Logger) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{
		blobs:        blobs,
		sessionTTL:   sessionTTL,
		fileTTL:      fileTTL,
		maxDownloads: maxDownloads,
		log:          log.Named("fallback"),
	}
}

func (f *Fallback) Capabilities() Capabilities {
	return Capabilities{}
}

func (f *Fallback) CreateSession(ctx context.Context, s model.Session) error {
	return nil
}

func (f *Fallback) FindSessionByPin(ctx context.Context, pin string) (model.Session, error) {
	return model.Session{}, apperr.New(apperr.StorageUnavailable, "session lookup by pin requires the durable store")
}

// VerifySession accepts any pin for an existing session folder
func (f *Fallback) VerifySession(ctx context.Context, id, pin string) (model.Session, error) {
	s, err := f.GetSession(ctx, id)
	if err != nil {
		return s, err
	}
	f.log.Warn("accepting session without pin check", zap.String("session_id", id))
	s.Pin = pin
	return s, nil
}

func (f *Fallback) GetSession(ctx context.Context, id string) (model.Session, error) {
	exists, err := f.blobs.SessionExists(id)
	if err != nil {
		if errors.Is(err, blob.ErrInvalidName) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, apperr.Wrap(apperr.IOFailure, "failed to read session folder", err)
	}
	if !exists {
		return model.Session{}, ErrNotFound
	}
	return f.session(id)
}

func (f *Fallback) session(id string) (model.Session, error) {
	created, err := f.blobs.SessionCreated(id)
	if err != nil {
		return model.Session{}, apperr.Wrap(apperr.IOFailure, "failed to read session folder", err)
	}

	s := model.Session{
		ID:        id,
		CreatedAt: created,
		ExpiresAt: created.Add(f.sessionTTL),
		IsActive:  true,
		Type:      model.SessionPrivate,
	}

	if infos, err := f.blobs.List(id); err == nil {
		s.FileCount = len(infos)
		s.TotalSize = lo.SumBy(infos, func(info os.FileInfo) int64 { return info.Size() })
	}
	return s, nil
}

func (f *Fallback) DeactivateSession(ctx context.Context, id string) error {
	return nil
}

func (f *Fallback) DeleteSession(ctx context.Context, id string) error {
	return nil
}

// ExpiredSessions returns session folders older than the session TTL
func (f *Fallback) ExpiredSessions(ctx context.Context, now time.Time) ([]model.Session, error) {
	ids, err := f.blobs.Sessions()
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, "failed to list session folders", err)
	}

	var expired []model.Session
	for _, id := range ids {
		s, err := f.session(id)
		if err != nil {
			f.log.Warn("skipping unreadable session folder", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s)
		}
	}
	return expired, nil
}

func (f *Fallback) CreateFile(ctx context.Context, file model.File) error {
	return nil
}

// GetFile treats id as a blob filename since fallback files have no ids
func (f *Fallback) GetFile(ctx context.Context, id string) (model.File, error) {
	return f.GetFileByName(ctx, id)
}

func (f *Fallback) GetFileByName(ctx context.Context, filename string) (model.File, error) {
	ids, err := f.blobs.Sessions()
	if err != nil {
		return model.File{}, apperr.Wrap(apperr.IOFailure, "failed to list session folders", err)
	}
	for _, id := range ids {
		info, err := f.blobs.Stat(id, filename)
		if err == nil && !info.IsDir() {
			return f.file(id, info), nil
		}
	}
	return model.File{}, ErrNotFound
}

// ListFiles walks the session folder, newest first
func (f *Fallback) ListFiles(ctx context.Context, sessionID string) ([]model.File, error) {
	infos, err := f.blobs.List(sessionID)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, blob.ErrInvalidName) {
			return []model.File{}, nil
		}
		return nil, apperr.Wrap(apperr.IOFailure, "failed to list session folder", err)
	}

	files := lo.Map(infos, func(info os.FileInfo, _ int) model.File {
		return f.file(sessionID, info)
	})
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].UploadDate.After(files[j].UploadDate)
	})
	return files, nil
}

func (f *Fallback) file(sessionID string, info os.FileInfo) model.File {
	return model.File{
		ID:           info.Name(),
		Filename:     info.Name(),
		OriginalName: info.Name(),
		Size:         info.Size(),
		Mimetype:     f.sniff(sessionID, info.Name()),
		UploadDate:   info.ModTime(),
		ExpiresAt:    info.ModTime().Add(f.fileTTL),
		StoragePath:  filepath.Join(sessionID, info.Name()),
		SessionID:    sessionID,
		MaxDownloads: f.maxDownloads,
	}
}

func (f *Fallback) sniff(sessionID, filename string) string {
	r, _, err := f.blobs.Open(sessionID, filename)
	if err != nil {
		return "application/octet-stream"
	}
	defer r.Close()

	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

func (f *Fallback) DeleteFile(ctx context.Context, id string) error {
	return nil
}

func (f *Fallback) IncrementDownloads(ctx context.Context, id string) error {
	return nil
}

// ExpiredFiles returns nothing; files go with their session folder
func (f *Fallback) ExpiredFiles(ctx context.Context, now time.Time) ([]model.File, error) {
	return nil, nil
}

func (f *Fallback) Stats(ctx context.Context, now time.Time) (model.Stats, error) {
	var stats model.Stats

	ids, err := f.blobs.Sessions()
	if err != nil {
		return stats, apperr.Wrap(apperr.IOFailure, "failed to list session folders", err)
	}

	for _, id := range ids {
		s, err := f.session(id)
		if err != nil {
			continue
		}
		stats.TotalSessions++
		if now.Before(s.ExpiresAt) {
			stats.ActiveSessions++
		} else {
			stats.ExpiredSessions++
		}

		infos, err := f.blobs.List(id)
		if err != nil {
			continue
		}
		stats.TotalFiles += len(infos)
		stats.TotalSize += s.TotalSize
		stats.ExpiredFiles += len(lo.Filter(infos, func(info os.FileInfo, _ int) bool {
			return !now.Before(info.ModTime().Add(f.fileTTL))
		}))
	}
	return stats, nil
}

func (f *Fallback) Ping(ctx context.Context) error {
	return apperr.New(apperr.StorageUnavailable, "durable store not connected")
}
