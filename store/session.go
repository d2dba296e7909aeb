package store

import (
	"time"

	"github.com/pkg/errors"
)

// ErrSessionNotFound is returned when a session id is unknown, expired, or
// otherwise no longer accepting turns. Callers treat it as "start a new
// session", never as a hard error to the end user.
var ErrSessionNotFound = errors.New("session not found")

// SessionStatus is the lifecycle state of an onboarding session.
// Transitions only leave Active; Completed, Abandoned, and Expired are sinks.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
	SessionExpired   SessionStatus = "expired"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Immutable once appended; ordering is the
// slice index.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"created_ts"`
}

// FactCategory classifies an extracted fact.
type FactCategory string

const (
	FactSkinType   FactCategory = "skin-type"
	FactConcern    FactCategory = "concern"
	FactPattern    FactCategory = "pattern"
	FactRoutine    FactCategory = "routine"
	FactLifestyle  FactCategory = "lifestyle"
	FactPreference FactCategory = "preference"
)

// FactConfidence grades how strongly a fact is supported by the dialogue.
type FactConfidence string

const (
	ConfidenceLow    FactConfidence = "low"
	ConfidenceMedium FactConfidence = "medium"
	ConfidenceHigh   FactConfidence = "high"
)

// Fact is a structured inference drawn from raw dialogue text. Facts are
// derived, not authoritative: re-extracting from the same history must yield
// the same set.
type Fact struct {
	Category     FactCategory   `json:"category"`
	Confidence   FactConfidence `json:"confidence"`
	Description  string         `json:"description"`
	MessageIndex int            `json:"message_index"`
}

// ConfidenceScores is the per-turn projection of conversation quality.
// Recomputed every turn from facts and message statistics; never
// authoritative.
type ConfidenceScores struct {
	Overall float64            `json:"overall"`
	Topics  map[string]float64 `json:"topics"`
}

// Session is one end-to-end onboarding conversation. Owned exclusively by
// the store; mutated only through the orchestrator.
type Session struct {
	UID         string           `json:"uid"`
	Status      SessionStatus    `json:"status"`
	Phase       int              `json:"phase"`
	Completion  float64          `json:"completion"`
	Messages    []Message        `json:"messages"`
	Facts       []Fact           `json:"facts"`
	Scores      ConfidenceScores `json:"scores"`
	Suggestions []string         `json:"suggestions"`
	CreatedTs   int64            `json:"created_ts"`
	UpdatedTs   int64            `json:"updated_ts"`
	ExpiresTs   int64            `json:"expires_ts"`
}

// IsExpired reports whether the session's inactivity window has lapsed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresTs
}

// UserTurns counts user messages, which drive the phase schedule.
func (s *Session) UserTurns() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// UpdateSession carries a full-session write. The payload (messages, facts,
// scores, suggestions) is stored as one serialized blob; status, phase, and
// expiry are indexed scalar columns used by sweep queries.
type UpdateSession struct {
	UID         string
	Status      *SessionStatus
	Phase       *int
	Completion  *float64
	Messages    []Message
	Facts       []Fact
	Scores      *ConfidenceScores
	Suggestions []string
	UpdatedTs   int64
	ExpiresTs   *int64
}
