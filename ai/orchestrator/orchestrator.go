// Package orchestrator coordinates one onboarding turn end to end: session
// load, response cache, fact extraction, engagement analysis, prompt
// assembly, the single LLM call, scoring, phase advancement, finalization,
// and the session write-back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/skinsense/skinsense/ai/cache"
	"github.com/skinsense/skinsense/ai/conversation"
	"github.com/skinsense/skinsense/ai/engagement"
	"github.com/skinsense/skinsense/ai/llm"
	"github.com/skinsense/skinsense/ai/memory"
	"github.com/skinsense/skinsense/ai/metrics"
	"github.com/skinsense/skinsense/ai/prompt"
	"github.com/skinsense/skinsense/ai/scoring"
	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
)

const responseCacheCapacity = 512

// Turn is the outcome of one orchestrated exchange.
type Turn struct {
	SessionID     string         `json:"session_id"`
	AssistantText string         `json:"assistant_text"`
	Suggestions   []string       `json:"suggestions"`
	Phase         int            `json:"phase"`
	Completion    float64        `json:"completion_estimate"`
	IsFinal       bool           `json:"is_final"`
	Profile       *SkinProfile   `json:"profile,omitempty"`
	ShouldRetry   bool           `json:"should_retry,omitempty"`
	ShouldRestart bool           `json:"should_restart,omitempty"`
	FromCache     bool           `json:"-"`
	Stats         *llm.CallStats `json:"-"`
}

// Orchestrator wires the onboarding pipeline together. One instance serves
// all sessions; per-session serialization happens through a keyed mutex.
type Orchestrator struct {
	profile    *profile.Profile
	store      *store.Store
	llm        llm.Service
	layers     *prompt.LayerSet
	compressor *conversation.Compressor
	extractor  *memory.Extractor
	analyzer   *engagement.Analyzer
	scorer     *scoring.Scorer
	responses  *cache.ResponseCache
	exporter   *metrics.PrometheusExporter

	// sessionLocks maps session uid -> *sync.Mutex. The lock is held across
	// the LLM call: a second message for the same session waits rather than
	// racing the first one's write-back. Different sessions never contend.
	// Entries are dropped when a session finalizes, fails lookup, or is
	// swept, so the map stays bounded by the live session count.
	sessionLocks sync.Map
}

// New builds an orchestrator. The exporter may be nil; metrics become no-ops.
func New(p *profile.Profile, s *store.Store, svc llm.Service, exporter *metrics.PrometheusExporter) *Orchestrator {
	return &Orchestrator{
		profile:    p,
		store:      s,
		llm:        svc,
		layers:     prompt.DefaultLayerSet(),
		compressor: conversation.NewCompressor(p.CompressKeepTail),
		extractor:  memory.NewExtractor(),
		analyzer:   engagement.NewAnalyzer(),
		scorer:     scoring.NewScorer(),
		responses:  cache.NewResponseCache(responseCacheCapacity, p.ResponseCacheTTL),
		exporter:   exporter,
	}
}

// Start creates a new session and returns the opening turn. The location
// hint only seasons the greeting; it is never stored.
func (o *Orchestrator) Start(ctx context.Context, locationHint string) (*Turn, error) {
	now := time.Now()
	greeting := openingMessage(locationHint)

	sess := &store.Session{
		UID:    shortuuid.New(),
		Status: store.SessionActive,
		Messages: []store.Message{
			{Role: store.RoleAssistant, Content: greeting, CreatedTs: now.UnixMilli()},
		},
		Scores:      store.ConfidenceScores{Topics: map[string]float64{}},
		Suggestions: openingSuggestions(),
		CreatedTs:   now.UnixMilli(),
		UpdatedTs:   now.UnixMilli(),
		ExpiresTs:   now.Add(o.profile.SessionTTL).UnixMilli(),
	}

	created, err := o.store.CreateSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if o.exporter != nil {
		o.exporter.SessionStarted()
	}
	slog.Info("onboarding session started", "session_uid", created.UID)

	return &Turn{
		SessionID:     created.UID,
		AssistantText: greeting,
		Suggestions:   created.Suggestions,
		Phase:         0,
	}, nil
}

// Message processes one user message. Messages for the same session are
// serialized; unknown, expired, or already-finalized sessions return
// store.ErrSessionNotFound so the client starts over.
func (o *Orchestrator) Message(ctx context.Context, sessionID, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty message text")
	}

	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	started := time.Now()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		o.sessionLocks.Delete(sessionID)
		return nil, err
	}
	if sess.Status != store.SessionActive {
		o.sessionLocks.Delete(sessionID)
		return nil, store.ErrSessionNotFound
	}

	now := time.Now()
	sess.Messages = append(sess.Messages, store.Message{
		Role:      store.RoleUser,
		Content:   text,
		CreatedTs: now.UnixMilli(),
	})

	// Derived state is recomputed from the full history every turn.
	facts := o.extractor.Extract(sess.Messages)
	level, _ := o.analyzer.Analyze(sess.Messages)

	replyText, stats, fromCache, err := o.reply(ctx, sess, text, facts, level)
	if err != nil {
		return o.degradedTurn(sess, err), nil
	}

	sess.Messages = append(sess.Messages, store.Message{
		Role:      store.RoleAssistant,
		Content:   replyText,
		CreatedTs: time.Now().UnixMilli(),
	})

	scores := o.scorer.Score(sess.Messages, facts)
	phase := o.nextPhase(sess)
	final := phase >= o.profile.TerminalPhase && scores.Overall >= o.profile.FinalizeThreshold
	suggestions := o.suggestions(phase, facts, final)

	turn := &Turn{
		SessionID:     sess.UID,
		AssistantText: replyText,
		Suggestions:   suggestions,
		Phase:         phase,
		Completion:    scores.Overall,
		IsFinal:       final,
		FromCache:     fromCache,
		Stats:         stats,
	}
	if final {
		turn.Profile = renderProfile(facts, scores)
	}

	o.persistTurn(ctx, sess, facts, scores, suggestions, phase, final)
	o.recordTurn(started, fromCache)

	return turn, nil
}

// reply returns the assistant text from the response cache when possible,
// otherwise makes the one LLM call for this turn.
func (o *Orchestrator) reply(ctx context.Context, sess *store.Session, text string, facts []store.Fact, level engagement.Level) (string, *llm.CallStats, bool, error) {
	scope := fmt.Sprintf("%s|%d", sess.UID, sess.Phase)
	if cached, ok := o.responses.Get(scope, text); ok {
		if o.exporter != nil {
			o.exporter.RecordCacheHit("response")
		}
		slog.Debug("response cache hit", "session_uid", sess.UID)
		return cached, nil, true, nil
	}
	if o.exporter != nil {
		o.exporter.RecordCacheMiss("response")
	}

	dynamic := o.dynamicLayer(sess, facts, level)
	history := o.compressor.Compress(sess.Messages)

	llmStart := time.Now()
	replyText, stats, err := o.llm.Generate(ctx, o.layers.Assemble(dynamic), history)
	if o.exporter != nil {
		o.exporter.RecordLLMRequest(o.profile.LLMModel, time.Since(llmStart), err == nil)
	}
	if err != nil {
		return "", nil, false, err
	}
	if o.exporter != nil && stats != nil {
		o.exporter.RecordLLMTokens(o.profile.LLMModel, "prompt", stats.PromptTokens)
		o.exporter.RecordLLMTokens(o.profile.LLMModel, "completion", stats.CompletionTokens)
		if stats.CacheReadTokens > 0 {
			o.exporter.RecordLLMTokens(o.profile.LLMModel, "cached", stats.CacheReadTokens)
		}
	}

	o.responses.Put(scope, text, replyText)
	return replyText, stats, false, nil
}

// dynamicLayer renders the per-turn prompt context: known facts, engagement
// guidance, and the current phase focus.
func (o *Orchestrator) dynamicLayer(sess *store.Session, facts []store.Fact, level engagement.Level) string {
	parts := make([]string, 0, 3)
	if ctx := memory.ContextText(facts); ctx != "" {
		parts = append(parts, ctx)
	}
	parts = append(parts, engagement.Guidance(level))
	parts = append(parts, fmt.Sprintf("Current phase: %d. Focus: %s", sess.Phase, phaseFocus(sess.Phase)))
	return strings.Join(parts, "\n\n")
}

// nextPhase advances the phase on the user-turn schedule. Phases never move
// backward and never pass the terminal phase.
func (o *Orchestrator) nextPhase(sess *store.Session) int {
	computed := sess.UserTurns() / o.profile.TurnsPerPhase
	if computed > o.profile.TerminalPhase {
		computed = o.profile.TerminalPhase
	}
	if computed < sess.Phase {
		return sess.Phase
	}
	return computed
}

// persistTurn writes the turn back to the store. A write failure is logged
// and swallowed: the user still gets the reply, and the next turn reloads
// whatever state the store last accepted.
func (o *Orchestrator) persistTurn(ctx context.Context, sess *store.Session, facts []store.Fact, scores store.ConfidenceScores, suggestions []string, phase int, final bool) {
	now := time.Now()
	status := store.SessionActive
	if final {
		status = store.SessionCompleted
	}
	expires := now.Add(o.profile.SessionTTL).UnixMilli()

	update := &store.UpdateSession{
		UID:         sess.UID,
		Status:      &status,
		Phase:       &phase,
		Completion:  &scores.Overall,
		Messages:    sess.Messages,
		Facts:       facts,
		Scores:      &scores,
		Suggestions: suggestions,
		UpdatedTs:   now.UnixMilli(),
		ExpiresTs:   &expires,
	}
	if _, err := o.store.UpdateSession(ctx, update); err != nil {
		slog.Error("failed to persist turn, reply still returned",
			"session_uid", sess.UID, "error", err)
		return
	}

	if final {
		o.sessionLocks.Delete(sess.UID)
		if o.exporter != nil {
			o.exporter.SessionFinalized()
			o.exporter.SessionClosed()
		}
		slog.Info("onboarding session finalized",
			"session_uid", sess.UID,
			"overall_confidence", scores.Overall,
			"facts", len(facts),
		)
	}
}

// degradedTurn maps an LLM failure onto a user-safe reply. The user message
// was not persisted, so resending it replays the turn cleanly. Rate limits
// and timeouts are transient and ask the user to retry; an invalid request
// means prompt assembly produced something the provider rejects, so retrying
// the same text would fail the same way and the client should start a fresh
// session instead.
func (o *Orchestrator) degradedTurn(sess *store.Session, err error) *Turn {
	slog.Warn("turn degraded by llm failure", "session_uid", sess.UID, "error", err)
	if o.exporter != nil {
		o.exporter.RecordTurn("llm", 0, false)
	}

	turn := &Turn{
		SessionID:  sess.UID,
		Phase:      sess.Phase,
		Completion: sess.Scores.Overall,
	}
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		turn.AssistantText = "I'm getting a lot of requests right now. Give me a few seconds and try again."
		turn.ShouldRetry = true
	case errors.Is(err, llm.ErrTimeout):
		turn.AssistantText = "That took longer than it should have. Please try sending your message again."
		turn.ShouldRetry = true
	case errors.Is(err, llm.ErrInvalidRequest):
		turn.AssistantText = "Sorry, something went wrong on my side. Let's start over so I can get this right."
		turn.ShouldRestart = true
	default:
		turn.AssistantText = "Sorry, I hit a snag on my side. Please send that again."
		turn.ShouldRetry = true
	}
	return turn
}

func (o *Orchestrator) recordTurn(started time.Time, fromCache bool) {
	if o.exporter == nil {
		return
	}
	source := "llm"
	if fromCache {
		source = "cache"
	}
	o.exporter.RecordTurn(source, time.Since(started), true)
}

func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	v, _ := o.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ResponseCacheSize is exposed for tests and diagnostics.
func (o *Orchestrator) ResponseCacheSize() int {
	return o.responses.Size()
}

// SweepExpired expires stale sessions, drops their mutexes, and prunes the
// response cache. Run periodically by the server.
func (o *Orchestrator) SweepExpired(ctx context.Context) {
	now := time.Now()
	swept, err := o.store.SweepExpired(ctx, now)
	if err != nil {
		slog.Error("session sweep failed", "error", err)
	} else if len(swept) > 0 {
		for _, uid := range swept {
			o.sessionLocks.Delete(uid)
		}
		slog.Info("expired sessions swept", "count", len(swept))
		if o.exporter != nil {
			o.exporter.SessionsExpired(len(swept))
		}
	}
	o.responses.CleanupExpired()
}
