// Package leads provides the lead engagement bounded context: call outcomes,
// the lead timeline and the lead's nurturing enrollment.
package leads

import (
	"engagement_backend/internal/activity"
	"engagement_backend/internal/events"
	apphttp "engagement_backend/internal/http"
	"engagement_backend/internal/leads/adapters"
	"engagement_backend/internal/leads/engagement"
	"engagement_backend/internal/leads/handler"
	"engagement_backend/internal/leads/repository"
	"engagement_backend/internal/leads/scoring"
	"engagement_backend/internal/nurturing"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps are the collaborators owned by other modules.
type Deps struct {
	Calendar     engagement.Calendar
	Appointments adapters.AppointmentStatsSource
	Nurturing    *nurturing.Service
	Activity     *activity.Service
	EventBus     events.Bus
	Validator    *validator.Validator
}

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	repo       *repository.Repository
	engagement *engagement.Service
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, deps Deps, cfg config.NurturingConfig, log *logger.Logger) *Module {
	repo := repository.New(pool)

	scorer := scoring.New(log)
	if deps.Appointments != nil {
		scorer.SetAppointmentStatsReader(adapters.NewAppointmentStatsAdapter(deps.Appointments))
	}

	opts := []engagement.Option{engagement.WithScorer(scorer)}
	if deps.Nurturing != nil {
		opts = append(opts, engagement.WithNurturing(deps.Nurturing, cfg.GetNoAnswerSequenceID()))
	}
	if deps.Activity != nil {
		opts = append(opts, engagement.WithActivityLogger(deps.Activity))
	}
	if deps.EventBus != nil {
		opts = append(opts, engagement.WithEventBus(deps.EventBus))
	}
	svc := engagement.New(repo, deps.Calendar, log, opts...)

	return &Module{
		handler:    handler.New(svc, deps.Nurturing, deps.Activity, deps.Validator),
		repo:       repo,
		engagement: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Engagement exposes the outcome service.
func (m *Module) Engagement() *engagement.Service {
	return m.engagement
}

// ContactReader resolves a lead's contact details for the nurturing channels.
func (m *Module) ContactReader() *adapters.ContactReaderAdapter {
	return adapters.NewContactReaderAdapter(m.repo)
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// All leads routes require authentication
	leadsGroup := ctx.Protected.Group("/leads")
	m.handler.RegisterRoutes(leadsGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
