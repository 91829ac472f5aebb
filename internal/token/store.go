package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("token not found")

// Record is a scoped, short-lived download capability for one file
type Record struct {
	Token         string    `json:"token"`
	Filename      string    `json:"filename"`
	SessionID     string    `json:"sessionId"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DownloadCount int       `json:"downloadCount"`
	MaxDownloads  int       `json:"maxDownloads"`
}

func (r Record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r Record) exhausted() bool {
	return r.DownloadCount >= r.MaxDownloads
}

// Store holds token records. Update must apply fn atomically with respect
// to other Update calls on the same token; an error from fn aborts the write.
type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, token string) (Record, error)
	Update(ctx context.Context, token string, fn func(r *Record) error) (Record, error)
	Delete(ctx context.Context, tokens ...string) error
	Scan(ctx context.Context, fn func(r Record) bool) error
}

// MemoryStore keeps tokens in process memory
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Put(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.Token] = r
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, token string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Update(ctx context.Context, token string, fn func(r *Record) error) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	if err := fn(&r); err != nil {
		return r, err
	}
	m.records[token] = r
	return r, nil
}

func (m *MemoryStore) Delete(ctx context.Context, tokens ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		delete(m.records, t)
	}
	return nil
}

// Scan calls fn on a snapshot so fn may call back into the store
func (m *MemoryStore) Scan(ctx context.Context, fn func(r Record) bool) error {
	m.mu.Lock()
	snapshot := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		snapshot = append(snapshot, r)
	}
	m.mu.Unlock()

	for _, r := range snapshot {
		if !fn(r) {
			break
		}
	}
	return nil
}
