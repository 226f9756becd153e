// Package notification fans domain events out to connected operators.
// Domain modules publish on the bus and never know about the push channel.
package notification

import (
	"context"

	"engagement_backend/internal/calls"
	"engagement_backend/internal/events"
	apphttp "engagement_backend/internal/http"
	"engagement_backend/internal/notification/sse"
	"engagement_backend/platform/httpkit"
	"engagement_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module pushes call, lead and nurturing updates over SSE.
type Module struct {
	sse *sse.Service
	log *logger.Logger
}

// New creates the notification module around an SSE hub.
func New(hub *sse.Service, log *logger.Logger) *Module {
	if log == nil {
		log = logger.Nop()
	}
	if hub == nil {
		hub = sse.New(log)
	}
	return &Module{sse: hub, log: log.WithComponent("notification")}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// SSE exposes the hub so other modules can push directly.
func (m *Module) SSE() *sse.Service { return m.sse }

// RegisterRoutes mounts the operator event stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/events", m.sse.Handler(userIDFromContext, tenantIDFromContext))
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.GetIdentity(c)
	if !id.IsAuthenticated() {
		return uuid.Nil, false
	}
	return id.UserID(), true
}

func tenantIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	tenantID := httpkit.GetIdentity(c).TenantID()
	if tenantID == nil {
		return uuid.Nil, false
	}
	return *tenantID, true
}

// RegisterHandlers subscribes the module to the events it pushes.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CallEnded{}.EventName(), m)
	bus.Subscribe(events.LeadOutcomeRecorded{}.EventName(), m)
	bus.Subscribe(events.NurturingEnrolled{}.EventName(), m)
	bus.Subscribe(events.NurturingCancelled{}.EventName(), m)
	bus.Subscribe(events.NurturingTaskExecuted{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the operator stream.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CallEnded:
		m.sse.Publish(e.UserID, sse.Event{Type: sse.EventCallEnded, CallID: e.CallID, LeadID: leadIDOrNil(e.LeadID), Data: e})
	case events.LeadOutcomeRecorded:
		m.sse.PublishToOrganization(e.TenantID, sse.Event{
			Type:    sse.EventLeadUpdated,
			LeadID:  e.LeadID,
			Message: e.PreviousStatus + " -> " + e.Status,
			Data:    e,
		})
	case events.NurturingEnrolled:
		m.sse.PublishToOrganization(e.TenantID, sse.Event{Type: sse.EventNurturingEnrolled, LeadID: e.LeadID, Data: e})
	case events.NurturingCancelled:
		m.sse.PublishToOrganization(e.TenantID, sse.Event{Type: sse.EventNurturingCancelled, LeadID: e.LeadID, Data: e})
	case events.NurturingTaskExecuted:
		m.sse.PublishToOrganization(e.TenantID, sse.Event{Type: sse.EventNurturingTaskExecuted, LeadID: e.LeadID, Data: e})
	default:
		m.log.Debug("unhandled event", "event", event.EventName())
	}
	return nil
}

// CallObserver pushes the endpoint's status changes and duration ticks to the
// operator who owns it.
func (m *Module) CallObserver(endpoint string) calls.Observer {
	_, userID, err := calls.ParseEndpointKey(endpoint)
	if err != nil {
		m.log.Warn("call push disabled for endpoint", "endpoint", endpoint, "error", err)
		return calls.ObserverFuncs{}
	}
	return calls.ObserverFuncs{
		StatusChange: func(s calls.Session, from calls.State) {
			m.sse.Publish(userID, sse.Event{
				Type:    sse.EventCallStatus,
				CallID:  s.CallID,
				LeadID:  leadIDOrNil(s.LeadID),
				Message: string(from) + " -> " + string(s.State),
				Data:    s,
			})
		},
		DurationTick: func(s calls.Session) {
			m.sse.Publish(userID, sse.Event{Type: sse.EventCallDuration, CallID: s.CallID, Data: gin.H{"durationSeconds": s.DurationSeconds}})
		},
		Error: func(s calls.Session, message string) {
			m.sse.Publish(userID, sse.Event{Type: sse.EventCallStatus, CallID: s.CallID, Message: message, Data: s})
		},
	}
}

func leadIDOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
