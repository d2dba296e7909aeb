package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skinsense/skinsense/ai/orchestrator"
	"github.com/skinsense/skinsense/store"
)

type StartOnboardingRequest struct {
	LocationHint string `json:"location_hint,omitempty"`
}

type StartOnboardingResponse struct {
	SessionID    string   `json:"session_id"`
	FirstMessage string   `json:"first_message"`
	Suggestions  []string `json:"suggestions"`
}

type OnboardingMessageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type OnboardingMessageResponse struct {
	AssistantText string                    `json:"assistant_text"`
	Suggestions   []string                  `json:"suggestions"`
	Phase         int                       `json:"phase"`
	Completion    float64                   `json:"completion_estimate"`
	IsFinal       bool                      `json:"is_final"`
	Profile       *orchestrator.SkinProfile `json:"profile,omitempty"`
	ShouldRetry   bool                      `json:"should_retry,omitempty"`
	ShouldRestart bool                      `json:"should_restart,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	ShouldRestart bool   `json:"should_restart,omitempty"`
}

// StartOnboarding creates a new session and returns the opening message.
func (s *APIV1Service) StartOnboarding(c echo.Context) error {
	req := &StartOnboardingRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
	}

	turn, err := s.Orchestrator.Start(c.Request().Context(), req.LocationHint)
	if err != nil {
		slog.Error("failed to start onboarding session", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}

	return c.JSON(http.StatusOK, StartOnboardingResponse{
		SessionID:    turn.SessionID,
		FirstMessage: turn.AssistantText,
		Suggestions:  turn.Suggestions,
	})
}

// OnboardingMessage processes one user message within a session.
func (s *APIV1Service) OnboardingMessage(c echo.Context) error {
	req := &OnboardingMessageRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
	}
	if req.SessionID == "" || req.Text == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "session_id and text are required"})
	}

	turn, err := s.Orchestrator.Message(c.Request().Context(), req.SessionID, req.Text)
	if err != nil {
		return s.mapMessageError(c, err)
	}

	return c.JSON(http.StatusOK, OnboardingMessageResponse{
		AssistantText: turn.AssistantText,
		Suggestions:   turn.Suggestions,
		Phase:         turn.Phase,
		Completion:    turn.Completion,
		IsFinal:       turn.IsFinal,
		Profile:       turn.Profile,
		ShouldRetry:   turn.ShouldRetry,
		ShouldRestart: turn.ShouldRestart,
	})
}

// mapMessageError translates orchestration failures into HTTP responses.
// An unknown or expired session tells the client to start a fresh one. LLM
// failures never reach here: the orchestrator degrades them into a normal
// turn carrying a retry or restart hint.
func (s *APIV1Service) mapMessageError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{
			Error:         "session_not_found",
			ShouldRestart: true,
		})
	default:
		slog.Error("onboarding message failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}
