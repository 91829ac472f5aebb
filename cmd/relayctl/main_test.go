package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://example.com")
	assert.Equal(t, "http://example.com/", client.BaseURL)
	assert.NotNil(t, client.HTTPClient)
	assert.Equal(t, 30*time.Minute, client.HTTPClient.Timeout)

	client = NewClient("http://example.com/")
	assert.Equal(t, "http://example.com/", client.BaseURL)
}

type fakeServer struct {
	*httptest.Server
	mux *http.ServeMux
}

func newFakeServer(t *testing.T) *fakeServer {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fakeServer{Server: srv, mux: mux}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requireSessionHeaders(t *testing.T, r *http.Request) {
	assert.Equal(t, "sess_abc", r.Header.Get("X-Session-Id"))
	assert.Equal(t, "482913", r.Header.Get("X-Session-Pin"))
}

func run(t *testing.T, srv *fakeServer, configDir string, args ...string) (string, error) {
	v := newViper(configDir)
	cmd := newRootCmd(v)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func withSession(t *testing.T) string {
	dir := t.TempDir()
	content := "session:\n  id: sess_abc\n  pin: \"482913\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	return dir
}

func TestCreateSavesSession(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/session/create", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "shared", body["sessionType"])
		assert.Equal(t, float64(2), body["ttlHours"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"sessionId":   "sess_abc",
			"pin":         "482913",
			"sessionType": "shared",
			"expiresAt":   time.Now().Add(2 * time.Hour),
		})
	})

	dir := t.TempDir()
	out, err := run(t, srv, dir, "create", "--type", "shared", "--ttl", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "PIN: 482913")

	saved := newViper(dir)
	assert.Equal(t, "sess_abc", saved.GetString("session.id"))
	assert.Equal(t, "482913", saved.GetString("session.pin"))
}

func TestJoinReportsServerError(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/session/find", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, map[string]interface{}{
			"success": false,
			"error":   "session has expired",
			"kind":    "Expired",
		})
	})

	_, err := run(t, srv, t.TempDir(), "join", "482913")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGone, apiErr.Status)
	assert.Equal(t, "Expired", apiErr.Kind)
	assert.Equal(t, "session has expired", apiErr.Message)
}

func TestUploadSendsSessionFields(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "sess_abc", r.FormValue("sessionId"))
		assert.Equal(t, "482913", r.FormValue("pin"))
		assert.Equal(t, "true", r.FormValue("oneTime"))

		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "notes.txt", header.Filename)
		assert.Equal(t, "hello relay", string(content))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"file": map[string]interface{}{
				"id":                "f1",
				"filename":          "file-1-2.txt",
				"originalName":      "notes.txt",
				"size":              11,
				"oneTime":           true,
				"downloadToken":     "tok",
				"downloadUrlSuffix": "/api/download/file-1-2.txt?token=tok",
			},
		})
	})

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello relay"), 0o644))

	out, err := run(t, srv, withSession(t), "upload", "--one-time", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded notes.txt as file-1-2.txt")
	assert.Contains(t, out, srv.URL+"/api/download/file-1-2.txt?token=tok")
	assert.Contains(t, out, "removed after its first download")
}

func TestListPrintsFiles(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/files", func(w http.ResponseWriter, r *http.Request) {
		requireSessionHeaders(t, r)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"files": []map[string]interface{}{{
				"id":            "f1",
				"filename":      "file-1-2.jpg",
				"originalName":  "photo.jpg",
				"size":          2048,
				"downloadCount": 1,
				"maxDownloads":  10,
				"expiresAt":     time.Now().Add(time.Hour),
			}},
		})
	})

	out, err := run(t, srv, withSession(t), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "photo.jpg")
	assert.Contains(t, out, "1/10")
	assert.Contains(t, out, "file-1-2.jpg")
}

func TestDownloadFetchesTokenFromListing(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/files", func(w http.ResponseWriter, r *http.Request) {
		requireSessionHeaders(t, r)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"files": []map[string]interface{}{{
				"filename":      "file-1-2.txt",
				"downloadToken": "fresh-token",
			}},
		})
	})
	srv.mux.HandleFunc("/api/download/file-1-2.txt", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fresh-token", r.URL.Query().Get("token"))
		w.Header().Set("Content-Disposition", `attachment; filename="notes.txt"`)
		w.Write([]byte("downloaded bytes"))
	})

	output := filepath.Join(t.TempDir(), "out.txt")
	out, err := run(t, srv, withSession(t), "download", "file-1-2.txt", "-O", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved "+output)

	b, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "downloaded bytes", string(b))
}

func TestDownloadLeavesNoFileOnError(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/download/file-1-2.txt", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"success": false,
			"error":   "download limit reached",
			"kind":    "ExceededQuota",
		})
	})

	dir := t.TempDir()
	output := filepath.Join(dir, "out.txt")
	_, err := run(t, srv, t.TempDir(), "download", "file-1-2.txt", "--token", "used", "-O", output)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ExceededQuota")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRmSendsDelete(t *testing.T) {
	srv := newFakeServer(t)
	srv.mux.HandleFunc("/api/files/f1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		requireSessionHeaders(t, r)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})

	out, err := run(t, srv, withSession(t), "rm", "f1")
	require.NoError(t, err)
	assert.Contains(t, out, "File f1 deleted successfully!")
}

func TestCommandsRequireSession(t *testing.T) {
	srv := newFakeServer(t)

	for _, args := range [][]string{{"list"}, {"rm", "f1"}, {"close"}} {
		_, err := run(t, srv, t.TempDir(), args...)
		assert.ErrorContains(t, err, "no session", "%v", args)
	}
}

func TestConfigSetAndGet(t *testing.T) {
	srv := newFakeServer(t)
	dir := t.TempDir()

	out, err := run(t, srv, dir, "config", "set", "server", "http://relay.local:5000/")
	require.NoError(t, err)
	assert.Contains(t, out, "Set server = http://relay.local:5000/")

	out, err = run(t, srv, dir, "config", "get", "session.pin")
	require.NoError(t, err)
	assert.Contains(t, out, "session.pin is not set")
}
