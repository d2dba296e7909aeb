// Package v1 is the JSON API surface for onboarding clients.
package v1

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/skinsense/skinsense/ai/orchestrator"
	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
)

type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, orch *orchestrator.Orchestrator) *APIV1Service {
	return &APIV1Service{
		Profile:      profile,
		Store:        store,
		Orchestrator: orch,
	}
}

// Register mounts the v1 routes on the echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	group := echoServer.Group("/api/v1")
	group.Use(middleware.CORS())

	group.POST("/onboarding/start", s.StartOnboarding)
	group.POST("/onboarding/message", s.OnboardingMessage)
}
