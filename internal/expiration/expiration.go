// Package expiration removes expired files, sessions and download tokens.
package expiration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/blob"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/metrics"
	"github.com/marianozunino/relay/internal/token"
)

// Report describes one sweep
type Report struct {
	FilesRemoved    int           `json:"filesRemoved"`
	SessionsRemoved int           `json:"sessionsRemoved"`
	TokensEvicted   int           `json:"tokensEvicted"`
	Failures        int           `json:"failures"`
	Skipped         bool          `json:"skipped"`
	Duration        time.Duration `json:"-"`
	DurationMs      int64         `json:"durationMs"`
}

// Sweeper runs the expiry sweep on a schedule and on demand. Only one sweep
// runs at a time; a sweep requested while another is running is skipped.
type Sweeper struct {
	backend  metadata.Backend
	blobs    *blob.Store
	tokens   *token.Authority
	interval time.Duration
	cron     *cron.Cron
	running  sync.Mutex
	initial  sync.WaitGroup
	now      func() time.Time
	log      *zap.Logger
}

func NewSweeper(backend metadata.Backend, blobs *blob.Store, tokens *token.Authority, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		backend:  backend,
		blobs:    blobs,
		tokens:   tokens,
		interval: interval,
		now:      time.Now,
		log:      log.Named("sweeper"),
	}
}

// Start runs a sweep immediately and then every interval until Stop
func (s *Sweeper) Start(ctx context.Context) error {
	logger := cronLogger{s.log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Run(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron = c
	c.Start()

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.Run(ctx)
	}()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the schedule and waits for running sweeps to finish
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.initial.Wait()
	s.running.Lock()
	defer s.running.Unlock()
	s.log.Info("sweeper stopped")
}

// Run performs one sweep unless another is in progress
func (s *Sweeper) Run(ctx context.Context) Report {
	if !s.running.TryLock() {
		s.log.Debug("sweep already running, skipping")
		return Report{Skipped: true}
	}
	defer s.running.Unlock()

	start := time.Now()
	now := s.now()
	var report Report

	s.sweepFiles(ctx, now, &report)
	s.sweepSessions(ctx, now, &report)

	evicted, err := s.tokens.Sweep(ctx)
	if err != nil {
		s.log.Error("failed to sweep tokens", zap.Error(err))
		report.Failures++
	}
	report.TokensEvicted = evicted
	metrics.SweepRemovals.WithLabelValues("token").Add(float64(evicted))

	if n, err := s.tokens.Count(ctx); err == nil {
		metrics.ActiveTokens.Set(float64(n))
	}

	report.Duration = time.Since(start)
	report.DurationMs = report.Duration.Milliseconds()
	metrics.SweepFailures.Add(float64(report.Failures))

	s.log.Info("sweep complete",
		zap.Int("files_removed", report.FilesRemoved),
		zap.Int("sessions_removed", report.SessionsRemoved),
		zap.Int("tokens_evicted", report.TokensEvicted),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.Duration))
	return report
}

func (s *Sweeper) sweepFiles(ctx context.Context, now time.Time, report *Report) {
	files, err := s.backend.ExpiredFiles(ctx, now)
	if err != nil {
		s.log.Error("failed to list expired files", zap.Error(err))
		report.Failures++
		return
	}

	for _, f := range files {
		if err := s.blobs.Delete(f.SessionID, f.Filename); err != nil {
			s.log.Error("failed to delete expired blob", zap.String("filename", f.Filename), zap.Error(err))
			report.Failures++
			continue
		}
		if err := s.backend.DeleteFile(ctx, f.ID); err != nil && !metadata.IsNotFound(err) {
			s.log.Error("failed to delete expired file record", zap.String("file_id", f.ID), zap.Error(err))
			report.Failures++
			continue
		}
		// outstanding tokens lapse on their own and resolve to NotFound meanwhile

		report.FilesRemoved++
		metrics.SweepRemovals.WithLabelValues("file").Inc()
		s.log.Debug("removed expired file",
			zap.String("filename", f.Filename),
			zap.String("session_id", f.SessionID),
			zap.Time("expired_at", f.ExpiresAt))
	}
}

func (s *Sweeper) sweepSessions(ctx context.Context, now time.Time, report *Report) {
	sessions, err := s.backend.ExpiredSessions(ctx, now)
	if err != nil {
		s.log.Error("failed to list expired sessions", zap.Error(err))
		report.Failures++
		return
	}

	for _, sess := range sessions {
		if err := s.blobs.RemoveSession(sess.ID); err != nil {
			s.log.Error("failed to remove expired session folder", zap.String("session_id", sess.ID), zap.Error(err))
			report.Failures++
			continue
		}
		if err := s.backend.DeleteSession(ctx, sess.ID); err != nil {
			s.log.Error("failed to delete expired session record", zap.String("session_id", sess.ID), zap.Error(err))
			report.Failures++
			continue
		}
		if _, err := s.tokens.RevokeSession(ctx, sess.ID); err != nil {
			s.log.Warn("failed to revoke tokens of expired session", zap.String("session_id", sess.ID), zap.Error(err))
		}

		report.SessionsRemoved++
		metrics.SweepRemovals.WithLabelValues("session").Inc()
		s.log.Debug("removed expired session", zap.String("session_id", sess.ID), zap.Time("expired_at", sess.ExpiresAt))
	}
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
