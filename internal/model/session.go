package model

import (
	"path"
	"time"
)

// SessionType controls who a session is meant to be shared with
type SessionType string

const (
	SessionPrivate SessionType = "private"
	SessionShared  SessionType = "shared"
	SessionPublic  SessionType = "public"
)

// ParseSessionType maps client input to a SessionType. Empty input is private.
func ParseSessionType(s string) (SessionType, bool) {
	switch SessionType(s) {
	case "":
		return SessionPrivate, true
	case SessionPrivate, SessionShared, SessionPublic:
		return SessionType(s), true
	default:
		return "", false
	}
}

// Session is a PIN-addressed, time-boxed container for uploaded files
type Session struct {
	ID        string      `db:"id" json:"sessionId"`
	Pin       string      `db:"pin" json:"pin"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
	ExpiresAt time.Time   `db:"expires_at" json:"expiresAt"`
	IsActive  bool        `db:"is_active" json:"isActive"`
	Type      SessionType `db:"session_type" json:"sessionType"`
	CreatedBy string      `db:"created_by" json:"createdBy,omitempty"`
	FileCount int         `db:"file_count" json:"fileCount"`
	TotalSize int64       `db:"total_size" json:"totalSize"`
}

// ExpiredAt reports whether the session is unusable at now
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.IsActive || !now.Before(s.ExpiresAt)
}

// FolderPath is the session folder relative to the server's working directory
func (s Session) FolderPath() string {
	return path.Join("uploads", s.ID)
}
