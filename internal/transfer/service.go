// Package transfer moves file contents in and out of sessions: uploads,
// token-gated downloads, listing and deletion.
package transfer

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/token"
)

const defaultMimetype = "application/octet-stream"

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,16}$`)

// Limits bound what a session may store and how often a file may be fetched
type Limits struct {
	MaxFileBytes       int64
	MaxFilesPerSession int
	FileTTL            time.Duration
	MaxDownloads       int
}

type Service struct {
	backend metadata.Backend
	blobs   *blob.Store
	tokens  *token.Authority
	limits  Limits
	now     func() time.Time
	log     *zap.Logger
}

func NewService(backend metadata.Backend, blobs *blob.Store, tokens *token.Authority, limits Limits, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		backend: backend,
		blobs:   blobs,
		tokens:  tokens,
		limits:  limits,
		now:     time.Now,
		log:     log.Named("transfer"),
	}
}

func (s *Service) Limits() Limits {
	return s.limits
}

// storageName builds the on-disk name file-<unixMillis>-<9 random digits><ext>
func storageName(originalName string, now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("file-%d-%09d%s", now.UnixMilli(), n.Int64(), ext), nil
}

// sniff detects the content type of r, leaving it rewound when it can seek
func sniff(r io.Reader) string {
	mtype, err := mimetype.DetectReader(r)
	if seeker, ok := r.(io.Seeker); ok {
		_, _ = seeker.Seek(0, io.SeekStart)
	}
	if err != nil {
		return defaultMimetype
	}
	return mtype.String()
}

// removeFile deletes a file's blob, then its record, then its tokens
func (s *Service) removeFile(ctx context.Context, f model.File) error {
	if err := s.blobs.Delete(f.SessionID, f.Filename); err != nil {
		return err
	}
	if err := s.backend.DeleteFile(ctx, f.ID); err != nil && !metadata.IsNotFound(err) {
		return err
	}
	if _, err := s.tokens.RevokeFile(ctx, f.Filename); err != nil {
		s.log.Warn("failed to revoke file tokens", zap.String("filename", f.Filename), zap.Error(err))
	}
	return nil
}
