package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skinsense/skinsense/ai/llm"
	"github.com/skinsense/skinsense/ai/orchestrator"
	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
	"github.com/skinsense/skinsense/store/db/sqlite"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Generate(context.Context, string, []store.Message) (string, *llm.CallStats, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return s.reply, &llm.CallStats{TotalTokens: 10}, nil
}

func newTestService(t *testing.T, mock *stubLLM) (*APIV1Service, *echo.Echo) {
	t.Helper()

	p := profile.Default()
	p.DSN = filepath.Join(t.TempDir(), "api_test.db")

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))

	svc := NewAPIV1Service(p, s, orchestrator.New(p, s, mock, nil))
	e := echo.New()
	svc.Register(e)
	return svc, e
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStartOnboarding(t *testing.T) {
	_, e := newTestService(t, &stubLLM{reply: "Hello!"})

	rec := postJSON(e, "/api/v1/onboarding/start", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StartOnboardingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.FirstMessage)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestOnboardingMessage_RoundTrip(t *testing.T) {
	_, e := newTestService(t, &stubLLM{reply: "Got it, thanks for sharing."})

	rec := postJSON(e, "/api/v1/onboarding/start", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var start StartOnboardingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = postJSON(e, "/api/v1/onboarding/message",
		`{"session_id":"`+start.SessionID+`","text":"my skin is oily"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OnboardingMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Got it, thanks for sharing.", resp.AssistantText)
	assert.False(t, resp.IsFinal)
	assert.Greater(t, resp.Completion, 0.0)
}

func TestOnboardingMessage_UnknownSession(t *testing.T) {
	_, e := newTestService(t, &stubLLM{reply: "hi"})

	rec := postJSON(e, "/api/v1/onboarding/message",
		`{"session_id":"nope","text":"hello"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "session_not_found", resp.Error)
	assert.True(t, resp.ShouldRestart)
}

func TestOnboardingMessage_MissingFields(t *testing.T) {
	_, e := newTestService(t, &stubLLM{reply: "hi"})

	rec := postJSON(e, "/api/v1/onboarding/message", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(e, "/api/v1/onboarding/message", `{"session_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnboardingMessage_DegradedTurnStillOK(t *testing.T) {
	// LLM failures inside a valid session degrade to a retryable reply.
	_, e := newTestService(t, &stubLLM{err: llm.ErrTimeout})

	rec := postJSON(e, "/api/v1/onboarding/start", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var start StartOnboardingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = postJSON(e, "/api/v1/onboarding/message",
		`{"session_id":"`+start.SessionID+`","text":"my skin is oily"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OnboardingMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.ShouldRetry)
	assert.False(t, resp.ShouldRestart)
	assert.NotEmpty(t, resp.AssistantText)
}

func TestOnboardingMessage_InvalidRequestSignalsRestart(t *testing.T) {
	// A provider-rejected request is not transient; the client gets a
	// restart hint instead of a retry hint.
	_, e := newTestService(t, &stubLLM{err: llm.ErrInvalidRequest})

	rec := postJSON(e, "/api/v1/onboarding/start", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var start StartOnboardingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = postJSON(e, "/api/v1/onboarding/message",
		`{"session_id":"`+start.SessionID+`","text":"my skin is oily"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OnboardingMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.ShouldRestart)
	assert.False(t, resp.ShouldRetry)
	assert.NotEmpty(t, resp.AssistantText)
}
