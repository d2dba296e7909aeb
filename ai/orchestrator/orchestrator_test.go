package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skinsense/skinsense/ai/llm"
	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
	"github.com/skinsense/skinsense/store/db/sqlite"
)

// mockLLM returns canned replies and counts calls, so tests can assert
// which turns actually reached the provider.
type mockLLM struct {
	calls    int64
	inFlight int64
	maxSeen  int64
	delay    time.Duration
	err      error
}

func (m *mockLLM) Generate(ctx context.Context, systemPrompt string, history []store.Message) (string, *llm.CallStats, error) {
	n := atomic.AddInt64(&m.inFlight, 1)
	for {
		seen := atomic.LoadInt64(&m.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt64(&m.maxSeen, seen, n) {
			break
		}
	}
	defer atomic.AddInt64(&m.inFlight, -1)

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return "", nil, m.err
	}
	call := atomic.AddInt64(&m.calls, 1)
	return fmt.Sprintf("Thanks for sharing! Tell me more. (reply %d)", call),
		&llm.CallStats{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		nil
}

func (m *mockLLM) callCount() int64 {
	return atomic.LoadInt64(&m.calls)
}

func newTestOrchestrator(t *testing.T, mock *mockLLM) (*Orchestrator, *store.Store) {
	t.Helper()

	p := profile.Default()
	p.DSN = filepath.Join(t.TempDir(), "orchestrator_test.db")

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))

	return New(p, s, mock, nil), s
}

func TestStart_CreatesSessionWithGreeting(t *testing.T) {
	o, s := newTestOrchestrator(t, &mockLLM{})

	turn, err := o.Start(context.Background(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, turn.SessionID)
	assert.Contains(t, turn.AssistantText, "describe your skin")
	assert.NotEmpty(t, turn.Suggestions)
	assert.Equal(t, 0, turn.Phase)
	assert.False(t, turn.IsFinal)

	sess, err := s.GetSession(context.Background(), turn.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, store.RoleAssistant, sess.Messages[0].Role)
}

func TestStart_LocationHintSeasonsGreeting(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockLLM{})

	turn, err := o.Start(context.Background(), "Helsinki")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantText, "Helsinki")
}

func TestMessage_UnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockLLM{})

	_, err := o.Message(context.Background(), "no-such-session", "hello")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestMessage_EmptyTextRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockLLM{})

	start, err := o.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = o.Message(context.Background(), start.SessionID, "   ")
	assert.Error(t, err)
}

func TestMessage_AppendsAndScores(t *testing.T) {
	mock := &mockLLM{}
	o, s := newTestOrchestrator(t, mock)
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	turn, err := o.Message(ctx, start.SessionID, "My skin is really oily and I keep getting breakouts.")
	require.NoError(t, err)

	assert.EqualValues(t, 1, mock.callCount())
	assert.False(t, turn.FromCache)
	assert.Greater(t, turn.Completion, 0.0)
	assert.False(t, turn.IsFinal)
	assert.NotEmpty(t, turn.Suggestions)

	sess, err := s.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 3) // greeting + user + assistant
	assert.NotEmpty(t, sess.Facts)
	assert.Greater(t, sess.Scores.Overall, 0.0)
}

func TestMessage_CacheHitSkipsLLM(t *testing.T) {
	mock := &mockLLM{}
	o, s := newTestOrchestrator(t, mock)
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	first, err := o.Message(ctx, start.SessionID, "My skin is oily")
	require.NoError(t, err)
	require.EqualValues(t, 1, mock.callCount())

	// Same utterance, modulo whitespace and case, in the same phase.
	second, err := o.Message(ctx, start.SessionID, "  my SKIN is  oily ")
	require.NoError(t, err)

	assert.EqualValues(t, 1, mock.callCount(), "cached turn must not call the LLM")
	assert.True(t, second.FromCache)
	assert.Equal(t, first.AssistantText, second.AssistantText)

	// Bookkeeping still happened: both exchanges are in the session.
	sess, err := s.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 5)
}

func TestMessage_ShortSessionLowCompletion(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockLLM{})
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	turn, err := o.Message(ctx, start.SessionID, "oily")
	require.NoError(t, err)
	turn, err = o.Message(ctx, start.SessionID, "yes")
	require.NoError(t, err)

	assert.Less(t, turn.Completion, 0.3)
	assert.False(t, turn.IsFinal)
	assert.Nil(t, turn.Profile)
}

// richMessages cover every fact category with detailed, similar-length
// answers so depth, detail, coverage, and consistency all saturate.
var richMessages = []string{
	"My skin is really oily across the whole face and it gets shiny before lunch almost every single day now.",
	"I keep getting breakouts and acne along my jawline and some blackheads on and around my nose as well.",
	"There is also some redness on my cheeks that comes and goes depending on the day and the weather outside.",
	"It always gets worse in the morning right when I wake up, and honestly also by evening after a long day.",
	"In winter everything changes and my cheeks get flaky while the t-zone somehow stays as greasy as always.",
	"When I'm stressed at work it flares up badly, and before my period it gets noticeably worse every month.",
	"Right now I use a gel cleanser twice a day and a light moisturizer at night before going to bed as well.",
	"I also put on sunscreen with spf 50 most mornings and sometimes a niacinamide serum under it at night.",
	"I tried a retinol once but it was too strong, and I exfoliate with a bha liquid about twice every week.",
	"I sleep pretty badly most weeks, maybe five or six hours, and my job keeps me stressed and under pressure.",
	"I'm outdoors a lot on weekends, I work out at the gym three times a week and I drink plenty of water too.",
	"For products I'd prefer fragrance free and affordable things, nothing fancy, a simple routine works best.",
}

func TestMessage_FinalizesOnceThresholdAndPhaseMet(t *testing.T) {
	mock := &mockLLM{}
	o, s := newTestOrchestrator(t, mock)
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	var last *Turn
	for _, text := range richMessages {
		last, err = o.Message(ctx, start.SessionID, text)
		require.NoError(t, err)
	}

	require.True(t, last.IsFinal, "completion %f phase %d", last.Completion, last.Phase)
	require.NotNil(t, last.Profile)
	assert.Equal(t, "oily skin", last.Profile.SkinType)
	assert.NotEmpty(t, last.Profile.Concerns)
	assert.NotEmpty(t, last.Profile.Routine)
	assert.GreaterOrEqual(t, last.Completion, 0.85)
	assert.Equal(t, 4, last.Phase)

	sess, err := s.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, sess.Status)

	// A finalized session accepts no further messages and holds no mutex.
	_, err = o.Message(ctx, start.SessionID, "one more thing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	_, held := o.sessionLocks.Load(start.SessionID)
	assert.False(t, held)
}

func TestMessage_PhaseNeverMovesBackward(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockLLM{})
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	prev := 0
	for i := 0; i < 8; i++ {
		turn, err := o.Message(ctx, start.SessionID, fmt.Sprintf("an answer about my skin, number %d", i))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, turn.Phase, prev)
		prev = turn.Phase
	}
	assert.Greater(t, prev, 0)
}

func TestMessage_LLMFailureDegradesGracefully(t *testing.T) {
	mock := &mockLLM{err: llm.ErrRateLimited}
	o, s := newTestOrchestrator(t, mock)
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	turn, err := o.Message(ctx, start.SessionID, "my skin is oily")
	require.NoError(t, err)

	assert.True(t, turn.ShouldRetry)
	assert.NotEmpty(t, turn.AssistantText)
	assert.False(t, turn.IsFinal)

	// The failed turn was not persisted; retrying replays it cleanly.
	sess, err := s.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1)
}

func TestMessage_InvalidRequestSignalsRestart(t *testing.T) {
	// An invalid request means prompt assembly is broken; resending the
	// same text would fail identically, so the client is told to restart.
	mock := &mockLLM{err: llm.ErrInvalidRequest}
	o, s := newTestOrchestrator(t, mock)
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	turn, err := o.Message(ctx, start.SessionID, "my skin is oily")
	require.NoError(t, err)

	assert.True(t, turn.ShouldRestart)
	assert.False(t, turn.ShouldRetry)
	assert.NotEmpty(t, turn.AssistantText)
	assert.False(t, turn.IsFinal)

	sess, err := s.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1)
}

func TestMessage_SameSessionSerialized(t *testing.T) {
	mock := &mockLLM{delay: 30 * time.Millisecond}
	o, _ := newTestOrchestrator(t, mock)
	ctx := context.Background()

	start, err := o.Start(ctx, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.Message(ctx, start.SessionID, fmt.Sprintf("concurrent message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&mock.maxSeen),
		"messages for one session must not overlap inside the LLM call")
}

func TestMessage_DifferentSessionsRunConcurrently(t *testing.T) {
	mock := &mockLLM{delay: 100 * time.Millisecond}
	o, _ := newTestOrchestrator(t, mock)
	ctx := context.Background()

	first, err := o.Start(ctx, "")
	require.NoError(t, err)
	second, err := o.Start(ctx, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{first.SessionID, second.SessionID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := o.Message(ctx, id, "my skin is oily")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.EqualValues(t, 2, atomic.LoadInt64(&mock.maxSeen),
		"independent sessions must not serialize behind each other")
}

func TestSweepExpired_PrunesStaleSessions(t *testing.T) {
	o, s := newTestOrchestrator(t, &mockLLM{})
	ctx := context.Background()

	now := time.Now()
	_, err := s.CreateSession(ctx, &store.Session{
		UID:       "stale",
		Status:    store.SessionActive,
		Scores:    store.ConfidenceScores{Topics: map[string]float64{}},
		CreatedTs: now.Add(-72 * time.Hour).UnixMilli(),
		UpdatedTs: now.Add(-72 * time.Hour).UnixMilli(),
		ExpiresTs: now.Add(-24 * time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	o.lockFor("stale")

	o.SweepExpired(ctx)

	_, err = s.GetSession(ctx, "stale")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, held := o.sessionLocks.Load("stale")
	assert.False(t, held, "swept sessions must not leave a mutex behind")
}

func TestMessage_UnknownSessionLeavesNoLock(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockLLM{})

	_, err := o.Message(context.Background(), "no-such-session", "hello")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	_, held := o.sessionLocks.Load("no-such-session")
	assert.False(t, held, "failed lookups must not grow the lock map")
}
