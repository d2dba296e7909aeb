package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/skinsense/skinsense/store"
)

// sessionPayload is the JSONB conversation state. The sweep query only
// touches the scalar columns, so the blob stays opaque to SQL.
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
	args := []any{create.UID, create.Status, create.Phase, create.Completion, payload, create.CreatedTs, create.UpdatedTs, create.ExpiresTs}
	stmt := `INSERT INTO onboarding_session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}

	return create, nil
}

func (d *DB) GetSession(ctx context.Context, uid string) (*store.Session, error) {
	query := `SELECT uid, status, phase, completion, payload, created_ts, updated_ts, expires_ts
		FROM onboarding_session WHERE uid = $1`

	sess := &store.Session{}
	var payload []byte
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

	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session payload")
	}
	sess.Messages = p.Messages
	sess.Facts = p.Facts
	sess.Scores = p.Scores
	sess.Suggestions = p.Suggestions
	return sess, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.Phase != nil {
		set, args = append(set, "phase = "+placeholder(len(args)+1)), append(args, *update.Phase)
	}
	if update.Completion != nil {
		set, args = append(set, "completion = "+placeholder(len(args)+1)), append(args, *update.Completion)
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
		set, args = append(set, "payload = "+placeholder(len(args)+1)), append(args, payload)
	}
	if update.ExpiresTs != nil {
		set, args = append(set, "expires_ts = "+placeholder(len(args)+1)), append(args, *update.ExpiresTs)
	}
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().UnixMilli()
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, update.UpdatedTs)

	args = append(args, update.UID)
	stmt := `UPDATE onboarding_session SET ` + strings.Join(set, ", ") + ` WHERE uid = ` + placeholder(len(args))
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
	if _, err := d.db.ExecContext(ctx, `DELETE FROM onboarding_session WHERE uid = $1`, uid); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

func (d *DB) ListSessionUIDsByStatus(ctx context.Context, status store.SessionStatus, expiredBefore time.Time) ([]string, error) {
	query := `SELECT uid FROM onboarding_session WHERE status = $1 AND expires_ts <= $2`
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
