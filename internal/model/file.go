package model

import "time"

// File is an uploaded blob together with its access limits
type File struct {
	ID            string    `db:"id" json:"id"`
	Filename      string    `db:"filename" json:"filename"`
	OriginalName  string    `db:"original_name" json:"originalName"`
	Size          int64     `db:"size" json:"size"`
	Mimetype      string    `db:"mimetype" json:"mimetype"`
	UploadDate    time.Time `db:"upload_date" json:"uploadDate"`
	ExpiresAt     time.Time `db:"expires_at" json:"expiresAt"`
	StoragePath   string    `db:"storage_path" json:"-"`
	SessionID     string    `db:"session_id" json:"sessionId"`
	SessionPin    string    `db:"session_pin" json:"-"`
	DownloadCount int       `db:"download_count" json:"downloadCount"`
	MaxDownloads  int       `db:"max_downloads" json:"maxDownloads"`
	OneTimeToken  string    `db:"one_time_token" json:"-"`
}

func (f File) ExpiredAt(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

func (f File) DownloadsExhausted() bool {
	return f.MaxDownloads > 0 && f.DownloadCount >= f.MaxDownloads
}

func (f File) OneTime() bool {
	return f.OneTimeToken != ""
}

// Stats summarizes stored sessions and files for the admin surface
type Stats struct {
	TotalFiles      int   `json:"totalFiles"`
	ExpiredFiles    int   `json:"expiredFiles"`
	TotalSessions   int   `json:"totalSessions"`
	ActiveSessions  int   `json:"activeSessions"`
	ExpiredSessions int   `json:"expiredSessions"`
	TotalSize       int64 `json:"totalSize"`
}
