package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/session"
	"github.com/marianozunino/relay/internal/token"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testEnv struct {
	service  *Service
	sessions *session.Manager
	backend  metadata.Backend
	blobs    *blob.Store
	tokens   *token.Authority
	fs       afero.Fs
}

func defaultLimits() Limits {
	return Limits{
		MaxFileBytes:       1024,
		MaxFilesPerSession: 50,
		FileTTL:            24 * time.Hour,
		MaxDownloads:       10,
	}
}

func newTestEnv(t *testing.T, backend metadata.Backend, fs afero.Fs, limits Limits) *testEnv {
	blobs := blob.New(fs, "/uploads")
	require.NoError(t, blobs.Init())
	tokens := token.NewAuthority(token.NewMemoryStore(), 15*time.Minute, limits.MaxDownloads, nil)

	return &testEnv{
		service:  NewService(backend, blobs, tokens, limits, nil),
		sessions: session.NewManager(backend, blobs, tokens, 24*time.Hour, 72*time.Hour, nil),
		backend:  backend,
		blobs:    blobs,
		tokens:   tokens,
		fs:       fs,
	}
}

func setupDurableEnv(t *testing.T, limits Limits) *testEnv {
	backend, err := metadata.Probe("sqlite3", filepath.Join(t.TempDir(), "relay.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return newTestEnv(t, backend, afero.NewMemMapFs(), limits)
}

func setupFallbackEnv(t *testing.T, limits Limits) *testEnv {
	fs := afero.NewMemMapFs()
	blobs := blob.New(fs, "/uploads")
	fallback := metadata.NewFallback(blobs, 24*time.Hour, limits.FileTTL, limits.MaxDownloads, nil)
	return newTestEnv(t, fallback, fs, limits)
}

func (env *testEnv) newSession(t *testing.T) model.Session {
	sess, err := env.sessions.Create(context.Background(), "", 0, "")
	require.NoError(t, err)
	return sess
}

// refresh re-validates a session so counters are current
func (env *testEnv) refresh(t *testing.T, sess model.Session) model.Session {
	got, err := env.sessions.Validate(context.Background(), sess.ID, sess.Pin)
	require.NoError(t, err)
	return got
}

func upload(t *testing.T, env *testEnv, sess model.Session, name, content string) UploadResult {
	res, err := env.service.Upload(context.Background(), sess, UploadRequest{
		Reader:       strings.NewReader(content),
		DeclaredSize: int64(len(content)),
		Mimetype:     "text/plain",
		OriginalName: name,
	})
	require.NoError(t, err)
	return res
}

func readAll(t *testing.T, d *Download) string {
	defer d.Close()
	b, err := io.ReadAll(d)
	require.NoError(t, err)
	return string(b)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	res := upload(t, env, sess, "notes.txt", "hello relay")

	assert.Regexp(t, `^file-\d{13}-\d{9}\.txt$`, res.File.Filename)
	assert.Equal(t, "notes.txt", res.File.OriginalName)
	assert.Equal(t, int64(11), res.File.Size)
	assert.Equal(t, "text/plain", res.File.Mimetype)
	assert.Equal(t, res.File.UploadDate.Add(24*time.Hour), res.File.ExpiresAt)
	assert.Equal(t, res.File.Filename, res.Token.Filename)
	assert.Equal(t, sess.ID, res.Token.SessionID)

	d, err := env.service.Download(ctx, res.File.Filename, res.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(11), d.Size)
	assert.Equal(t, "text/plain", d.ContentType)
	assert.Equal(t, "notes.txt", d.SuggestedName)
	assert.False(t, d.OneTime)
	assert.Equal(t, "hello relay", readAll(t, d))

	stored, err := env.backend.GetFile(ctx, res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DownloadCount)

	updated := env.refresh(t, sess)
	assert.Equal(t, 1, updated.FileCount)
	assert.Equal(t, int64(11), updated.TotalSize)
}

func TestTokenCapThenExceededQuota(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDownloads = 3
	env := setupDurableEnv(t, limits)
	ctx := context.Background()
	sess := env.newSession(t)

	res := upload(t, env, sess, "a.txt", "abc")

	for i := 0; i < 3; i++ {
		d, err := env.service.Download(ctx, res.File.Filename, res.Token.Token)
		require.NoError(t, err)
		assert.Equal(t, "abc", readAll(t, d))
	}

	_, err := env.service.Download(ctx, res.File.Filename, res.Token.Token)
	assert.True(t, apperr.Is(err, apperr.ExceededQuota), "got %v", err)
}

func TestFileCapAcrossTokens(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDownloads = 2
	env := setupDurableEnv(t, limits)
	ctx := context.Background()
	sess := env.newSession(t)

	res := upload(t, env, sess, "a.txt", "abc")

	for i := 0; i < 2; i++ {
		tok, err := env.tokens.Issue(ctx, res.File.Filename, sess.ID)
		require.NoError(t, err)
		d, err := env.service.Download(ctx, res.File.Filename, tok.Token)
		require.NoError(t, err)
		d.Close()
	}

	fresh, err := env.tokens.Issue(ctx, res.File.Filename, sess.ID)
	require.NoError(t, err)
	_, err = env.service.Download(ctx, res.File.Filename, fresh.Token)
	assert.True(t, apperr.Is(err, apperr.ExceededQuota))

	// A rejected attempt does not spend the token
	rec, err := env.tokens.Validate(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.DownloadCount)
}

func TestDownloadRejectsMismatchedToken(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	a := upload(t, env, sess, "a.txt", "aaa")
	b := upload(t, env, sess, "b.txt", "bbb")

	_, err := env.service.Download(ctx, b.File.Filename, a.Token.Token)
	assert.True(t, apperr.Is(err, apperr.Invalid))

	_, err = env.service.Download(ctx, a.File.Filename, "bogus")
	assert.True(t, apperr.Is(err, apperr.Invalid))
}

func TestDownloadExpiredFileIsGone(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	res := upload(t, env, sess, "a.txt", "abc")

	env.service.now = func() time.Time { return res.File.ExpiresAt.Add(time.Second) }
	_, err := env.service.Download(ctx, res.File.Filename, res.Token.Token)
	assert.True(t, apperr.Is(err, apperr.Gone))
}

func TestDownloadMissingBlob(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	res := upload(t, env, sess, "a.txt", "abc")
	require.NoError(t, env.blobs.Delete(sess.ID, res.File.Filename))

	_, err := env.service.Download(ctx, res.File.Filename, res.Token.Token)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestDownloadFromUploadRoot(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()

	_, err := env.blobs.Write("", "legacy.png", bytes.NewReader(pngHeader), 0)
	require.NoError(t, err)
	tok, err := env.tokens.Issue(ctx, "legacy.png", "sess_old")
	require.NoError(t, err)

	d, err := env.service.Download(ctx, "legacy.png", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.ContentType)
	assert.Equal(t, "legacy.png", d.SuggestedName)
	assert.Equal(t, string(pngHeader), readAll(t, d))
}

func TestUploadPayloadTooLarge(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	_, err := env.service.Upload(ctx, sess, UploadRequest{
		Reader:       bytes.NewReader(make([]byte, 10)),
		DeclaredSize: 2048,
		OriginalName: "big.bin",
	})
	assert.True(t, apperr.Is(err, apperr.PayloadTooLarge))

	// Lying about the size is caught while copying
	_, err = env.service.Upload(ctx, sess, UploadRequest{
		Reader:       bytes.NewReader(make([]byte, 1025)),
		DeclaredSize: -1,
		OriginalName: "big.bin",
	})
	assert.True(t, apperr.Is(err, apperr.PayloadTooLarge))

	files, err := env.blobs.List(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, files, "partial blob must be removed")
}

func TestUploadEmptyFile(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	_, err := env.service.Upload(ctx, sess, UploadRequest{Reader: strings.NewReader(""), DeclaredSize: -1})
	assert.True(t, apperr.Is(err, apperr.BadRequest))

	_, err = env.service.Upload(ctx, sess, UploadRequest{Reader: strings.NewReader(""), DeclaredSize: 0})
	assert.True(t, apperr.Is(err, apperr.BadRequest))

	files, err := env.blobs.List(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUploadQuotaExceeded(t *testing.T) {
	limits := defaultLimits()
	limits.MaxFilesPerSession = 1
	env := setupDurableEnv(t, limits)
	sess := env.newSession(t)

	upload(t, env, sess, "one.txt", "1")

	_, err := env.service.Upload(context.Background(), env.refresh(t, sess), UploadRequest{
		Reader:       strings.NewReader("2"),
		DeclaredSize: 1,
		OriginalName: "two.txt",
	})
	assert.True(t, apperr.Is(err, apperr.QuotaExceeded))
}

func TestUploadSniffsMimetype(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	sess := env.newSession(t)

	res, err := env.service.Upload(context.Background(), sess, UploadRequest{
		Reader:       bytes.NewReader(pngHeader),
		DeclaredSize: int64(len(pngHeader)),
		Mimetype:     "application/octet-stream",
		OriginalName: `C:\photos\Cat.PNG`,
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.File.Mimetype)
	assert.Equal(t, "Cat.PNG", res.File.OriginalName)
	assert.True(t, strings.HasSuffix(res.File.Filename, ".png"))
}

// failingFiles fails the record write of an upload
type failingFiles struct {
	metadata.Backend
}

func (f failingFiles) CreateFile(ctx context.Context, file model.File) error {
	return apperr.Wrap(apperr.StorageUnavailable, "record store unavailable", errors.New("disk I/O error"))
}

func TestUploadCompensatesFailedRecordWrite(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	broken := NewService(failingFiles{env.backend}, env.blobs, env.tokens, defaultLimits(), nil)

	_, err := broken.Upload(ctx, sess, UploadRequest{
		Reader:       strings.NewReader("orphan"),
		DeclaredSize: 6,
		OriginalName: "orphan.txt",
	})
	assert.True(t, apperr.Is(err, apperr.StorageUnavailable))

	files, err := env.blobs.List(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, files, "blob must be deleted when the record write fails")

	n, err := env.tokens.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeleteChecksSession(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	owner := env.newSession(t)
	other := env.newSession(t)

	res := upload(t, env, owner, "a.txt", "abc")

	err := env.service.Delete(ctx, other, res.File.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	_, err = env.blobs.Stat(owner.ID, res.File.Filename)
	assert.NoError(t, err, "blob must survive a forbidden delete")
	_, err = env.backend.GetFile(ctx, res.File.ID)
	assert.NoError(t, err, "record must survive a forbidden delete")

	require.NoError(t, env.service.Delete(ctx, owner, res.File.ID))

	_, err = env.blobs.Stat(owner.ID, res.File.Filename)
	assert.Error(t, err)
	_, err = env.backend.GetFile(ctx, res.File.ID)
	assert.True(t, metadata.IsNotFound(err))
	assert.Equal(t, 0, env.refresh(t, owner).FileCount)

	_, err = env.service.Download(ctx, res.File.Filename, res.Token.Token)
	assert.True(t, apperr.Is(err, apperr.Invalid), "tokens of deleted files are revoked")

	err = env.service.Delete(ctx, owner, res.File.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestOneTimeDownload(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	res, err := env.service.Upload(ctx, sess, UploadRequest{
		Reader:       strings.NewReader("secret"),
		DeclaredSize: 6,
		Mimetype:     "text/plain",
		OriginalName: "secret.txt",
		OneTime:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.File.MaxDownloads)
	assert.Equal(t, res.Token.Token, res.File.OneTimeToken)
	assert.Equal(t, 1, res.Token.MaxDownloads)

	d, err := env.service.Download(ctx, res.File.Filename, res.Token.Token)
	require.NoError(t, err)
	assert.True(t, d.OneTime)
	assert.Equal(t, "secret", readAll(t, d))
	require.NoError(t, env.service.FinishOneTime(ctx, d))

	_, err = env.blobs.Stat(sess.ID, res.File.Filename)
	assert.Error(t, err)
	_, err = env.backend.GetFile(ctx, res.File.ID)
	assert.True(t, metadata.IsNotFound(err))
}

func TestListMintsFreshTokens(t *testing.T) {
	env := setupDurableEnv(t, defaultLimits())
	ctx := context.Background()
	sess := env.newSession(t)

	first := upload(t, env, sess, "a.txt", "a")
	upload(t, env, sess, "b.txt", "b")

	listings, err := env.service.List(ctx, sess)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	for _, l := range listings {
		assert.Equal(t, l.File.Filename, l.Token.Filename)
		assert.NotEqual(t, first.Token.Token, l.Token.Token)
	}

	again, err := env.service.List(ctx, sess)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.NotEqual(t, listings[0].Token.Token, again[0].Token.Token)

	// Every minted token works independently
	d, err := env.service.Download(ctx, listings[0].File.Filename, listings[0].Token.Token)
	require.NoError(t, err)
	d.Close()
	d, err = env.service.Download(ctx, again[0].File.Filename, again[0].Token.Token)
	require.NoError(t, err)
	d.Close()

	env.service.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	expired, err := env.service.List(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestDegradedUploadListDownload(t *testing.T) {
	limits := defaultLimits()
	limits.MaxFilesPerSession = 1
	env := setupFallbackEnv(t, limits)
	ctx := context.Background()
	sess := env.newSession(t)

	// Quota is not enforced without the durable store
	upload(t, env, sess, "one.txt", "first")
	stale := sess
	stale.FileCount = 5
	second := upload(t, env, stale, "two.txt", "second")

	listings, err := env.service.List(ctx, sess)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	d, err := env.service.Download(ctx, second.File.Filename, second.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, "second", readAll(t, d))

	// Deletion by filename works through the fallback
	require.NoError(t, env.service.Delete(ctx, sess, second.File.Filename))
	_, err = env.blobs.Stat(sess.ID, second.File.Filename)
	assert.Error(t, err)
}
