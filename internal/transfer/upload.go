package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/metrics"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/token"
	"github.com/marianozunino/relay/internal/utils"
)

type UploadRequest struct {
	Reader       io.Reader
	DeclaredSize int64 // negative when unknown
	Mimetype     string
	OriginalName string
	OneTime      bool
}

type UploadResult struct {
	File  model.File
	Token token.Record
}

// Upload stores a file in sess. The blob is written first and the record
// second; when the record cannot be written the blob and token are removed.
func (s *Service) Upload(ctx context.Context, sess model.Session, req UploadRequest) (result UploadResult, err error) {
	defer func() { metrics.Uploads.WithLabelValues(metrics.Result(err)).Inc() }()

	if req.Reader == nil || req.DeclaredSize == 0 {
		return UploadResult{}, apperr.New(apperr.BadRequest, "no file uploaded")
	}
	if req.DeclaredSize > s.limits.MaxFileBytes {
		return UploadResult{}, apperr.New(apperr.PayloadTooLarge,
			fmt.Sprintf("file exceeds maximum size of %s", utils.FormatFileSize(s.limits.MaxFileBytes)))
	}

	caps := s.backend.Capabilities()
	if caps.FileQuota {
		if sess.FileCount >= s.limits.MaxFilesPerSession {
			return UploadResult{}, apperr.New(apperr.QuotaExceeded,
				fmt.Sprintf("session already holds the maximum of %d files", s.limits.MaxFilesPerSession))
		}
	} else {
		s.log.Debug("file quota not enforced without durable store", zap.String("session_id", sess.ID))
	}

	now := s.now()
	originalName := utils.SanitizeName(req.OriginalName)
	filename, err := storageName(originalName, now)
	if err != nil {
		return UploadResult{}, apperr.Wrap(apperr.IOFailure, "failed to name file", err)
	}

	// Phase 1: blob
	size, err := s.blobs.Write(sess.ID, filename, req.Reader, s.limits.MaxFileBytes)
	if errors.Is(err, blob.ErrTooLarge) {
		return UploadResult{}, apperr.New(apperr.PayloadTooLarge,
			fmt.Sprintf("file exceeds maximum size of %s", utils.FormatFileSize(s.limits.MaxFileBytes)))
	}
	if err != nil {
		return UploadResult{}, apperr.Wrap(apperr.IOFailure, "failed to store file", err)
	}
	if size == 0 {
		_ = s.blobs.Delete(sess.ID, filename)
		return UploadResult{}, apperr.New(apperr.BadRequest, "uploaded file is empty")
	}

	mtype := req.Mimetype
	if mtype == "" || mtype == defaultMimetype {
		mtype = s.sniffBlob(sess.ID, filename)
	}

	storagePath, _ := s.blobs.Path(sess.ID, filename)
	file := model.File{
		ID:           uuid.NewString(),
		Filename:     filename,
		OriginalName: originalName,
		Size:         size,
		Mimetype:     mtype,
		UploadDate:   now,
		ExpiresAt:    now.Add(s.limits.FileTTL),
		StoragePath:  storagePath,
		SessionID:    sess.ID,
		SessionPin:   sess.Pin,
		MaxDownloads: s.limits.MaxDownloads,
	}

	var tok token.Record
	if req.OneTime {
		file.MaxDownloads = 1
		tok, err = s.tokens.IssueWithCap(ctx, filename, sess.ID, 1)
		file.OneTimeToken = tok.Token
	} else {
		tok, err = s.tokens.Issue(ctx, filename, sess.ID)
	}
	if err != nil {
		s.compensate(ctx, file)
		return UploadResult{}, err
	}

	// Phase 2: record and session counters
	if err := s.backend.CreateFile(ctx, file); err != nil {
		s.compensate(ctx, file)
		if metadata.IsNotFound(err) {
			return UploadResult{}, apperr.New(apperr.NotFound, "session no longer exists")
		}
		return UploadResult{}, err
	}

	metrics.UploadBytes.Add(float64(size))
	s.log.Info("file uploaded",
		zap.String("session_id", sess.ID),
		zap.String("filename", filename),
		zap.Int64("size", size),
		zap.Bool("one_time", req.OneTime))

	return UploadResult{File: file, Token: tok}, nil
}

// compensate undoes phase 1 after a later step failed
func (s *Service) compensate(ctx context.Context, f model.File) {
	if err := s.blobs.Delete(f.SessionID, f.Filename); err != nil {
		s.log.Error("failed to remove orphaned blob", zap.String("filename", f.Filename), zap.Error(err))
	}
	if _, err := s.tokens.RevokeFile(ctx, f.Filename); err != nil {
		s.log.Warn("failed to revoke orphaned token", zap.String("filename", f.Filename), zap.Error(err))
	}
}

func (s *Service) sniffBlob(sessionID, filename string) string {
	f, _, err := s.blobs.Open(sessionID, filename)
	if err != nil {
		return defaultMimetype
	}
	defer f.Close()
	return sniff(f)
}
