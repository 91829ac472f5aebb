// Package token issues and enforces download tokens. A token is bound to one
// filename, expires after a fixed TTL and permits a capped number of downloads.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
)

const tokenBytes = 32

var (
	errExpired   = apperr.New(apperr.Expired, "download token expired")
	errExhausted = apperr.New(apperr.ExceededQuota, "download limit reached for this token")
)

type Authority struct {
	store        Store
	ttl          time.Duration
	maxDownloads int
	now          func() time.Time
	log          *zap.Logger
}

func NewAuthority(store Store, ttl time.Duration, maxDownloads int, log *zap.Logger) *Authority {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authority{
		store:        store,
		ttl:          ttl,
		maxDownloads: maxDownloads,
		now:          time.Now,
		log:          log.Named("token"),
	}
}

func generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func unavailable(err error) error {
	return apperr.Wrap(apperr.StorageUnavailable, "token store unavailable", err)
}

// Issue mints a token for filename with the default download cap
func (a *Authority) Issue(ctx context.Context, filename, sessionID string) (Record, error) {
	return a.IssueWithCap(ctx, filename, sessionID, a.maxDownloads)
}

func (a *Authority) IssueWithCap(ctx context.Context, filename, sessionID string, maxDownloads int) (Record, error) {
	tok, err := generate()
	if err != nil {
		return Record{}, apperr.Wrap(apperr.IOFailure, "failed to generate token", err)
	}

	now := a.now()
	r := Record{
		Token:        tok,
		Filename:     filename,
		SessionID:    sessionID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(a.ttl),
		MaxDownloads: maxDownloads,
	}
	if err := a.store.Put(ctx, r); err != nil {
		return Record{}, unavailable(err)
	}
	return r, nil
}

// check returns the error for an unusable record and evicts it
func (a *Authority) check(ctx context.Context, r Record) error {
	var err error
	switch {
	case r.expired(a.now()):
		err = errExpired
	case r.exhausted():
		err = errExhausted
	default:
		return nil
	}
	if delErr := a.store.Delete(ctx, r.Token); delErr != nil {
		a.log.Warn("failed to evict token", zap.Error(delErr))
	}
	return err
}

func (a *Authority) lookup(ctx context.Context, tok string) (Record, error) {
	if tok == "" {
		return Record{}, apperr.New(apperr.Invalid, "invalid download token")
	}
	r, err := a.store.Get(ctx, tok)
	if errors.Is(err, ErrNotFound) {
		return Record{}, apperr.New(apperr.Invalid, "invalid download token")
	}
	if err != nil {
		return Record{}, unavailable(err)
	}
	return r, nil
}

// Validate checks a token without counting a download
func (a *Authority) Validate(ctx context.Context, tok string) (Record, error) {
	r, err := a.lookup(ctx, tok)
	if err != nil {
		return r, err
	}
	if err := a.check(ctx, r); err != nil {
		return r, err
	}
	return r, nil
}

// Consume re-checks the token and counts one download
func (a *Authority) Consume(ctx context.Context, tok string) (Record, error) {
	if tok == "" {
		return Record{}, apperr.New(apperr.Invalid, "invalid download token")
	}

	var rejected *Record
	r, err := a.store.Update(ctx, tok, func(r *Record) error {
		if r.expired(a.now()) || r.exhausted() {
			cp := *r
			rejected = &cp
			return errExhausted
		}
		r.DownloadCount++
		return nil
	})

	switch {
	case rejected != nil:
		return *rejected, a.check(ctx, *rejected)
	case errors.Is(err, ErrNotFound):
		return Record{}, apperr.New(apperr.Invalid, "invalid download token")
	case err != nil:
		return Record{}, unavailable(err)
	}
	return r, nil
}

func (a *Authority) revoke(ctx context.Context, match func(Record) bool) (int, error) {
	var doomed []string
	err := a.store.Scan(ctx, func(r Record) bool {
		if match(r) {
			doomed = append(doomed, r.Token)
		}
		return true
	})
	if err != nil {
		return 0, unavailable(err)
	}
	if err := a.store.Delete(ctx, doomed...); err != nil {
		return 0, unavailable(err)
	}
	return len(doomed), nil
}

// RevokeFile drops every token for filename
func (a *Authority) RevokeFile(ctx context.Context, filename string) (int, error) {
	return a.revoke(ctx, func(r Record) bool { return r.Filename == filename })
}

// RevokeSession drops every token scoped to sessionID
func (a *Authority) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return a.revoke(ctx, func(r Record) bool { return r.SessionID == sessionID })
}

// Sweep evicts expired and exhausted tokens
func (a *Authority) Sweep(ctx context.Context) (int, error) {
	now := a.now()
	return a.revoke(ctx, func(r Record) bool { return r.expired(now) || r.exhausted() })
}

func (a *Authority) Count(ctx context.Context) (int, error) {
	n := 0
	err := a.store.Scan(ctx, func(Record) bool {
		n++
		return true
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (a *Authority) TTL() time.Duration {
	return a.ttl
}
