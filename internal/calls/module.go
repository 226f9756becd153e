package calls

import (
	apphttp "engagement_backend/internal/http"
	"engagement_backend/internal/telephony"
)

// Module mounts the operator line routes and the provider status webhook.
type Module struct {
	handler *Handler
	webhook *telephony.StatusWebhook
}

func NewModule(handler *Handler) *Module {
	return &Module{handler: handler}
}

// SetStatusWebhook enables the public provider status callback route.
func (m *Module) SetStatusWebhook(w telephony.StatusWebhook) {
	m.webhook = &w
}

// Name returns the module identifier.
func (m *Module) Name() string { return "calls" }

// RegisterRoutes mounts /calls on the protected group and the signed status
// webhook on the public group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/calls"))
	if m.webhook != nil && ctx.V1 != nil {
		ctx.V1.POST("/webhooks/telephony/status", m.webhook.Handle)
	}
}

var _ apphttp.Module = (*Module)(nil)
