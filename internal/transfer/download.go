package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/metrics"
	"github.com/marianozunino/relay/internal/model"
)

// Download is an opened blob ready to stream. The caller must Close it.
type Download struct {
	io.ReadSeekCloser
	Size          int64
	ContentType   string
	SuggestedName string
	ModTime       time.Time
	OneTime       bool

	file model.File
}

// Download resolves a (filename, token) pair to an open blob. Both the
// token's and the file's download counters are incremented once the blob
// has been opened; a stream that fails later still counts.
func (s *Service) Download(ctx context.Context, filename, tok string) (d *Download, err error) {
	defer func() { metrics.Downloads.WithLabelValues(metrics.Result(err)).Inc() }()

	rec, err := s.tokens.Validate(ctx, tok)
	if err != nil {
		return nil, err
	}
	if rec.Filename != filename {
		return nil, apperr.New(apperr.Invalid, "download token does not match this file")
	}

	f, info, sessionID, err := s.openBlob(rec.SessionID, filename)
	if err != nil {
		return nil, err
	}

	file, err := s.backend.GetFileByName(ctx, filename)
	found := err == nil
	switch {
	case metadata.IsNotFound(err):
		file = model.File{Filename: filename, OriginalName: filename, SessionID: sessionID}
	case err != nil:
		f.Close()
		return nil, err
	}

	if found {
		if file.ExpiredAt(s.now()) {
			f.Close()
			return nil, apperr.New(apperr.Gone, "file has expired")
		}
		if file.DownloadsExhausted() {
			f.Close()
			return nil, apperr.New(apperr.ExceededQuota, "download limit reached for this file")
		}
	}

	if _, err := s.tokens.Consume(ctx, tok); err != nil {
		f.Close()
		return nil, err
	}
	if found && s.backend.Capabilities().DownloadCounting {
		if err := s.backend.IncrementDownloads(ctx, file.ID); err != nil {
			f.Close()
			return nil, err
		}
		file.DownloadCount++
	}

	contentType := file.Mimetype
	if contentType == "" {
		contentType = sniff(f)
	}

	s.log.Info("download started",
		zap.String("filename", filename),
		zap.String("session_id", sessionID),
		zap.Int("file_downloads", file.DownloadCount))

	return &Download{
		ReadSeekCloser: f,
		Size:           info.Size(),
		ContentType:    contentType,
		SuggestedName:  file.OriginalName,
		ModTime:        info.ModTime(),
		OneTime:        file.OneTime(),
		file:           file,
	}, nil
}

// openBlob looks in the token's session folder, then the upload root
func (s *Service) openBlob(sessionID, filename string) (io.ReadSeekCloser, os.FileInfo, string, error) {
	for _, dir := range []string{sessionID, ""} {
		f, info, err := s.blobs.Open(dir, filename)
		if err == nil {
			return f, info, dir, nil
		}
		if !os.IsNotExist(err) && !errors.Is(err, blob.ErrInvalidName) {
			return nil, nil, "", apperr.Wrap(apperr.IOFailure, "failed to open file", err)
		}
	}
	return nil, nil, "", apperr.New(apperr.NotFound, "file not found")
}

// FinishOneTime removes a one-time file after it has been streamed in full
func (s *Service) FinishOneTime(ctx context.Context, d *Download) error {
	if d == nil || !d.OneTime {
		return nil
	}
	if err := s.removeFile(ctx, d.file); err != nil {
		return apperr.Wrap(apperr.IOFailure, "failed to remove one-time file", err)
	}
	s.log.Info("one-time file removed", zap.String("filename", d.file.Filename))
	return nil
}
