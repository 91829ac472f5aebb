package transfer

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/token"
)

// Listing pairs a file with a token minted for this listing
type Listing struct {
	File  model.File
	Token token.Record
}

// List returns the session's live files, each with a fresh download token
func (s *Service) List(ctx context.Context, sess model.Session) ([]Listing, error) {
	files, err := s.backend.ListFiles(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	live := lo.Filter(files, func(f model.File, _ int) bool {
		if f.ExpiredAt(now) {
			return false
		}
		if _, err := s.blobs.Stat(f.SessionID, f.Filename); err != nil {
			s.log.Debug("listing skips file without blob", zap.String("filename", f.Filename))
			return false
		}
		return true
	})

	listings := make([]Listing, 0, len(live))
	for _, f := range live {
		var (
			tok token.Record
			err error
		)
		if f.OneTime() {
			tok, err = s.tokens.IssueWithCap(ctx, f.Filename, sess.ID, 1)
		} else {
			tok, err = s.tokens.Issue(ctx, f.Filename, sess.ID)
		}
		if err != nil {
			return nil, err
		}
		listings = append(listings, Listing{File: f, Token: tok})
	}
	return listings, nil
}

// Delete removes a file that belongs to sess
func (s *Service) Delete(ctx context.Context, sess model.Session, fileID string) error {
	if fileID == "" {
		return apperr.New(apperr.BadRequest, "file id is required")
	}

	f, err := s.backend.GetFile(ctx, fileID)
	if metadata.IsNotFound(err) {
		return apperr.New(apperr.NotFound, "file not found")
	}
	if err != nil {
		return err
	}
	if f.SessionID != sess.ID {
		return apperr.New(apperr.Forbidden, "file belongs to another session")
	}

	if err := s.removeFile(ctx, f); err != nil {
		if apperr.KindOf(err) == apperr.StorageUnavailable {
			return err
		}
		return apperr.Wrap(apperr.IOFailure, "failed to delete file", err)
	}

	s.log.Info("file deleted", zap.String("session_id", sess.ID), zap.String("filename", f.Filename))
	return nil
}
