package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Session is what the server returns for create and find
type Session struct {
	SessionID   string    `json:"sessionId"`
	Pin         string    `json:"pin"`
	SessionType string    `json:"sessionType"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	FolderPath  string    `json:"folderPath"`
	FileCount   int       `json:"fileCount"`
	TotalSize   int64     `json:"totalSize"`
}

type File struct {
	ID                string    `json:"id"`
	Filename          string    `json:"filename"`
	OriginalName      string    `json:"originalName"`
	Size              int64     `json:"size"`
	Mimetype          string    `json:"mimetype"`
	UploadDate        time.Time `json:"uploadDate"`
	ExpiresAt         time.Time `json:"expiresAt"`
	DownloadCount     int       `json:"downloadCount"`
	MaxDownloads      int       `json:"maxDownloads"`
	OneTime           bool      `json:"oneTime"`
	DownloadToken     string    `json:"downloadToken"`
	DownloadURLSuffix string    `json:"downloadUrlSuffix"`
}

// Credentials identify a session on every file operation
type Credentials struct {
	SessionID string
	Pin       string
}

// APIError is a failure reported by the server's error envelope
type APIError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

func (c *Client) url(path string, query url.Values) string {
	u := c.BaseURL + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (c *Client) postJSON(path string, payload interface{}, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.url(path, nil), strings.NewReader(string(b)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func setCredentials(req *http.Request, creds Credentials) {
	req.Header.Set("X-Session-Id", creds.SessionID)
	req.Header.Set("X-Session-Pin", creds.Pin)
}

func (c *Client) CreateSession(sessionType string, ttlHours int) (*Session, error) {
	var s Session
	err := c.postJSON("api/session/create", map[string]interface{}{
		"sessionType": sessionType,
		"ttlHours":    ttlHours,
		"createdBy":   hostname(),
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) JoinSession(pin string) (*Session, error) {
	var s Session
	if err := c.postJSON("api/session/find", map[string]string{"pin": pin}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteSession(creds Credentials) error {
	req, err := http.NewRequest(http.MethodDelete, c.url("api/session", nil), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	setCredentials(req, creds)
	return c.do(req, nil)
}

// UploadFile streams filePath into the session as a multipart upload
func (c *Client) UploadFile(creds Credentials, filePath string, oneTime bool) (*File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		fields := map[string]string{
			"sessionId": creds.SessionID,
			"pin":       creds.Pin,
			"oneTime":   strconv.FormatBool(oneTime),
		}
		for k, v := range fields {
			if err := writer.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequest(http.MethodPost, c.url("api/upload", nil), pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp struct {
		File File `json:"file"`
	}
	if err := c.do(req, &resp); err != nil {
		pr.Close()
		return nil, err
	}
	return &resp.File, nil
}

func (c *Client) ListFiles(creds Credentials) ([]File, error) {
	req, err := http.NewRequest(http.MethodGet, c.url("api/files", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setCredentials(req, creds)

	var resp struct {
		Files []File `json:"files"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) DeleteFile(creds Credentials, fileID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.url("api/files/"+url.PathEscape(fileID), nil), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	setCredentials(req, creds)
	return c.do(req, nil)
}

// Download writes the file to w and returns the name the server suggests
func (c *Client) Download(filename, token string, w io.Writer) (string, int64, error) {
	u := c.url("api/download/"+url.PathEscape(filename), url.Values{"token": {token}})
	resp, err := c.HTTPClient.Get(u)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, decodeError(resp)
	}

	name := filename
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return name, n, fmt.Errorf("download interrupted after %d bytes: %w", n, err)
	}
	return name, n, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
