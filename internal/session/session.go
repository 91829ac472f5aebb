// Package session creates PIN-addressed sessions and checks the credentials
// that every other operation is gated on.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/metrics"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/token"
)

const maxPinAttempts = 10

var pinPattern = regexp.MustCompile(`^[0-9]{6}$`)

type Manager struct {
	backend    metadata.Backend
	blobs      *blob.Store
	tokens     *token.Authority
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func NewManager(backend metadata.Backend, blobs *blob.Store, tokens *token.Authority, defaultTTL, maxTTL time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		backend:    backend,
		blobs:      blobs,
		tokens:     tokens,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		now:        time.Now,
		log:        log.Named("session"),
	}
}

// generatePin returns a uniformly random pin in [100000, 999999]
func generatePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create allocates a session with a pin no other active session holds.
// ttlHours <= 0 selects the default TTL; above the ceiling it is rejected.
func (m *Manager) Create(ctx context.Context, sessionType string, ttlHours int, createdBy string) (model.Session, error) {
	st, ok := model.ParseSessionType(sessionType)
	if !ok {
		return model.Session{}, apperr.New(apperr.BadRequest, "invalid session type")
	}

	ttl := m.defaultTTL
	if ttlHours > 0 {
		maxHours := int(m.maxTTL / time.Hour)
		if ttlHours > maxHours {
			return model.Session{}, apperr.New(apperr.BadRequest,
				fmt.Sprintf("ttlHours must be at most %d", maxHours))
		}
		ttl = time.Duration(ttlHours) * time.Hour
	}

	var sess model.Session
	created := false
	for attempt := 0; attempt < maxPinAttempts && !created; attempt++ {
		pin, err := generatePin()
		if err != nil {
			return model.Session{}, apperr.Wrap(apperr.IOFailure, "failed to generate pin", err)
		}

		now := m.now()
		sess = model.Session{
			ID:        newSessionID(),
			Pin:       pin,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			IsActive:  true,
			Type:      st,
			CreatedBy: createdBy,
		}

		err = m.backend.CreateSession(ctx, sess)
		switch {
		case errors.Is(err, metadata.ErrPinTaken):
			m.log.Debug("pin collision, retrying", zap.Int("attempt", attempt+1))
		case err != nil:
			return model.Session{}, err
		default:
			created = true
		}
	}
	if !created {
		return model.Session{}, apperr.New(apperr.Conflict, "could not allocate a unique pin")
	}

	if err := m.blobs.CreateSession(sess.ID); err != nil {
		if delErr := m.backend.DeleteSession(ctx, sess.ID); delErr != nil {
			m.log.Error("failed to remove session record after folder failure",
				zap.String("session_id", sess.ID), zap.Error(delErr))
		}
		return model.Session{}, apperr.Wrap(apperr.IOFailure, "failed to create session folder", err)
	}

	if !m.backend.Capabilities().PinLookup {
		m.log.Warn("session created without durable store, its pin cannot be looked up or checked",
			zap.String("session_id", sess.ID))
	}

	metrics.SessionsCreated.Inc()
	m.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("type", string(sess.Type)),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Join finds the session that holds pin
func (m *Manager) Join(ctx context.Context, pin string) (sess model.Session, err error) {
	defer func() { metrics.SessionJoins.WithLabelValues(metrics.Result(err)).Inc() }()

	pin = strings.TrimSpace(pin)
	if !pinPattern.MatchString(pin) {
		return model.Session{}, apperr.New(apperr.BadRequest, "a 6-digit pin is required")
	}

	sess, err = m.backend.FindSessionByPin(ctx, pin)
	if metadata.IsNotFound(err) {
		return model.Session{}, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return model.Session{}, err
	}

	if sess.ExpiredAt(m.now()) {
		if sess.IsActive {
			if err := m.backend.DeactivateSession(ctx, sess.ID); err != nil {
				m.log.Warn("failed to deactivate expired session", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}
		return model.Session{}, apperr.New(apperr.Expired, "session has expired")
	}

	return sess, nil
}

// Validate checks a session id and pin pair. The returned session is what
// downstream operations act on.
func (m *Manager) Validate(ctx context.Context, sessionID, pin string) (model.Session, error) {
	if sessionID == "" || pin == "" {
		return model.Session{}, apperr.New(apperr.BadRequest, "session id and pin are required")
	}

	sess, err := m.backend.VerifySession(ctx, sessionID, pin)
	if metadata.IsNotFound(err) {
		return model.Session{}, apperr.New(apperr.NotFound, "invalid session or pin")
	}
	if err != nil {
		return model.Session{}, err
	}

	if sess.ExpiredAt(m.now()) {
		return model.Session{}, apperr.New(apperr.Expired, "session has expired")
	}
	return sess, nil
}

// Delete removes a session's folder, record and outstanding tokens
func (m *Manager) Delete(ctx context.Context, sess model.Session) error {
	if err := m.blobs.RemoveSession(sess.ID); err != nil {
		return apperr.Wrap(apperr.IOFailure, "failed to remove session folder", err)
	}
	if err := m.backend.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	if _, err := m.tokens.RevokeSession(ctx, sess.ID); err != nil {
		m.log.Warn("failed to revoke session tokens", zap.String("session_id", sess.ID), zap.Error(err))
	}

	m.log.Info("session deleted", zap.String("session_id", sess.ID))
	return nil
}
