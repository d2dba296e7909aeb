// Package store provides durable persistence for onboarding sessions.
//
// Sessions are durable from the start: the predecessor design kept sessions
// in an in-process map keyed by session id, which silently lost every
// conversation across restarts. All session state flows through a Driver
// (postgres for production, sqlite for development).
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/skinsense/skinsense/internal/profile"
)

// Store provides database access to session entities.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate ensures the schema exists.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// CreateSession persists a new session row.
func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	return s.driver.CreateSession(ctx, create)
}

// GetSession loads a session by uid. An expired-but-still-active row is
// transitioned to expired lazily and reported as ErrSessionNotFound, so the
// sweep is a memory/bookkeeping concern, not a correctness one.
func (s *Store) GetSession(ctx context.Context, uid string) (*Session, error) {
	sess, err := s.driver.GetSession(ctx, uid)
	if err != nil {
		return nil, err
	}
	if sess.Status == SessionActive && sess.IsExpired(time.Now()) {
		expired := SessionExpired
		if _, uerr := s.driver.UpdateSession(ctx, &UpdateSession{
			UID:       uid,
			Status:    &expired,
			UpdatedTs: time.Now().UnixMilli(),
		}); uerr != nil {
			slog.Warn("failed to mark session expired", "session_uid", uid, "error", uerr)
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// UpdateSession applies a full-session write.
func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	return s.driver.UpdateSession(ctx, update)
}

// CompleteSession transitions a session to completed. Idempotent: completing
// an already-completed session is a no-op, not an error.
func (s *Store) CompleteSession(ctx context.Context, uid string) error {
	sess, err := s.driver.GetSession(ctx, uid)
	if err != nil {
		return err
	}
	if sess.Status == SessionCompleted {
		return nil
	}
	completed := SessionCompleted
	_, err = s.driver.UpdateSession(ctx, &UpdateSession{
		UID:       uid,
		Status:    &completed,
		UpdatedTs: time.Now().UnixMilli(),
	})
	return err
}

// SweepExpired marks active sessions past their expiry as expired.
// Returns the uids of the sessions transitioned, so callers can drop any
// per-session state they hold for them.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	uids, err := s.driver.ListSessionUIDsByStatus(ctx, SessionActive, now)
	if err != nil {
		return nil, err
	}
	expired := SessionExpired
	swept := make([]string, 0, len(uids))
	for _, uid := range uids {
		if _, err := s.driver.UpdateSession(ctx, &UpdateSession{
			UID:       uid,
			Status:    &expired,
			UpdatedTs: now.UnixMilli(),
		}); err != nil {
			slog.Warn("sweep: failed to expire session", "session_uid", uid, "error", err)
			continue
		}
		swept = append(swept, uid)
	}
	return swept, nil
}
