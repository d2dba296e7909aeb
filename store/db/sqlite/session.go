package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/skinsense/skinsense/store"
)

// sessionPayload is the serialized conversation state. Messages, facts,
// scores, and suggestions travel as one JSON blob; only the columns the
// sweep query filters on are scalar.
type sessionPayload struct {
	Messages    []store.Message        `json:"messages"`
	Facts       []store.Fact           `json:"facts"`
	Scores      store.ConfidenceScores `json:"scores"`
	Suggestions []string               `json:"suggestions"`
}

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	payload, err := json.Marshal(sessionPayload{
		Messages:    create.Messages,
		Facts:       create.Facts,
		Scores:      create.Scores,
		Suggestions: create.Suggestions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal session payload")
	}

	fields := []string{"uid", "status", "phase", "completion", "payload", "created_ts", "updated_ts", "expires_ts"}
	args := []any{create.UID, create.Status, create.Phase, create.Completion, string(payload), create.CreatedTs, create.UpdatedTs, create.ExpiresTs}
	stmt := `INSERT INTO onboarding_session (` + strings.Join(fields, ", ") + `)
		VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ") + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}

	return create, nil
}

func (d *DB) GetSession(ctx context.Context, uid string) (*store.Session, error) {
	query := `SELECT uid, status, phase, completion, payload, created_ts, updated_ts, expires_ts
		FROM onboarding_session WHERE uid = ?`

	sess := &store.Session{}
	var payload string
	err := d.db.QueryRowContext(ctx, query, uid).Scan(
		&sess.UID, &sess.Status, &sess.Phase, &sess.Completion, &payload,
		&sess.CreatedTs, &sess.UpdatedTs, &sess.ExpiresTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "failed to get session")
	}

	if err := unmarshalPayload(payload, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.Phase != nil {
		set, args = append(set, "phase = ?"), append(args, *update.Phase)
	}
	if update.Completion != nil {
		set, args = append(set, "completion = ?"), append(args, *update.Completion)
	}
	if update.Messages != nil || update.Facts != nil || update.Scores != nil || update.Suggestions != nil {
		current, err := d.GetSession(ctx, update.UID)
		if err != nil {
			return nil, err
		}
		merged := sessionPayload{
			Messages:    current.Messages,
			Facts:       current.Facts,
			Scores:      current.Scores,
			Suggestions: current.Suggestions,
		}
		if update.Messages != nil {
			merged.Messages = update.Messages
		}
		if update.Facts != nil {
			merged.Facts = update.Facts
		}
		if update.Scores != nil {
			merged.Scores = *update.Scores
		}
		if update.Suggestions != nil {
			merged.Suggestions = update.Suggestions
		}
		payload, err := json.Marshal(merged)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal session payload")
		}
		set, args = append(set, "payload = ?"), append(args, string(payload))
	}
	if update.ExpiresTs != nil {
		set, args = append(set, "expires_ts = ?"), append(args, *update.ExpiresTs)
	}
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().UnixMilli()
	}
	set, args = append(set, "updated_ts = ?"), append(args, update.UpdatedTs)

	args = append(args, update.UID)
	stmt := `UPDATE onboarding_session SET ` + strings.Join(set, ", ") + ` WHERE uid = ?`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrSessionNotFound
	}

	return d.GetSession(ctx, update.UID)
}

func (d *DB) DeleteSession(ctx context.Context, uid string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM onboarding_session WHERE uid = ?`, uid); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

func (d *DB) ListSessionUIDsByStatus(ctx context.Context, status store.SessionStatus, expiredBefore time.Time) ([]string, error) {
	query := `SELECT uid FROM onboarding_session WHERE status = ? AND expires_ts <= ?`
	rows, err := d.db.QueryContext(ctx, query, status, expiredBefore.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	uids := make([]string, 0)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, errors.Wrap(err, "failed to scan session uid")
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}
	return uids, nil
}

func unmarshalPayload(raw string, sess *store.Session) error {
	var payload sessionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return errors.Wrap(err, "failed to unmarshal session payload")
	}
	sess.Messages = payload.Messages
	sess.Facts = payload.Facts
	sess.Scores = payload.Scores
	sess.Suggestions = payload.Suggestions
	return nil
}
