package handler

import (
	"context"
	"net/http"

	"engagement_backend/internal/activity"
	"engagement_backend/internal/leads/domain"
	"engagement_backend/internal/leads/engagement"
	"engagement_backend/internal/leads/transport"
	"engagement_backend/internal/nurturing"
	"engagement_backend/platform/httpkit"
	"engagement_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Outcomes records call outcomes and reads the lead they apply to.
type Outcomes interface {
	GetLead(ctx context.Context, organizationID, leadID uuid.UUID) (domain.Lead, error)
	RecordOutcome(ctx context.Context, cmd engagement.RecordOutcomeCommand) (engagement.Result, error)
}

// Nurturing is the enrollment API exposed on a lead.
type Nurturing interface {
	Enroll(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string) (nurturing.Enrollment, error)
	Cancel(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string) (nurturing.Enrollment, error)
	Get(ctx context.Context, organizationID, leadID uuid.UUID) (nurturing.Enrollment, error)
}

// Timeline reads the lead's activity log.
type Timeline interface {
	ListForLead(ctx context.Context, organizationID, leadID uuid.UUID, limit int) ([]activity.Entry, error)
}

type Handler struct {
	outcomes  Outcomes
	nurturing Nurturing
	timeline  Timeline
	val       *validator.Validator
}

func New(outcomes Outcomes, nurture Nurturing, timeline Timeline, val *validator.Validator) *Handler {
	if val == nil {
		val = validator.New()
	}
	return &Handler{outcomes: outcomes, nurturing: nurture, timeline: timeline, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/outcomes", h.RecordOutcome)
	rg.GET("/:id/activities", h.ListActivities)
	rg.GET("/:id/nurturing", h.GetNurturing)
	rg.POST("/:id/nurturing", h.Enroll)
	rg.DELETE("/:id/nurturing", h.CancelNurturing)
}

// leadScope parses the lead id and the caller's tenant. It writes the error
// response itself when it returns false.
func leadScope(c *gin.Context) (httpkit.Identity, uuid.UUID, uuid.UUID, bool) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return nil, uuid.Nil, uuid.Nil, false
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return nil, uuid.Nil, uuid.Nil, false
	}
	return identity, tenantID, leadID, true
}

func (h *Handler) GetByID(c *gin.Context) {
	_, tenantID, leadID, ok := leadScope(c)
	if !ok {
		return
	}

	lead, err := h.outcomes.GetLead(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewLeadResponse(lead))
}

func (h *Handler) RecordOutcome(c *gin.Context) {
	identity, tenantID, leadID, ok := leadScope(c)
	if !ok {
		return
	}

	var req transport.RecordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	outcome, err := req.ToOutcome()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	res, err := h.outcomes.RecordOutcome(c.Request.Context(), engagement.RecordOutcomeCommand{
		OrganizationID: tenantID,
		LeadID:         leadID,
		ActorID:        identity.UserID(),
		CallID:         req.CallID,
		Outcome:        outcome,
		Note:           req.Note,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.RecordOutcomeResponse{
		Lead:    transport.NewLeadResponse(res.Lead),
		Outcome: string(res.Patch.Outcome),
	}
	if res.Appointment != nil {
		resp.Appointment = &transport.AppointmentSummary{
			ID:             res.Appointment.AppointmentID,
			CollaboratorID: res.Appointment.CollaboratorID,
			Start:          res.Appointment.Start,
			End:            res.Appointment.End,
		}
	}
	if res.Enrollment != nil {
		resp.EnrolledSequenceID = res.Enrollment.SequenceID
	}
	if res.Cancelled != nil {
		resp.CancelledSequenceID = res.Cancelled.SequenceID
		for _, task := range res.Cancelled.Tasks {
			if task.Status == nurturing.TaskCancelled {
				resp.CancelledTaskCount++
			}
		}
	}
	httpkit.OK(c, resp)
}

func (h *Handler) ListActivities(c *gin.Context) {
	_, tenantID, leadID, ok := leadScope(c)
	if !ok {
		return
	}

	var req transport.ListActivitiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	items, err := h.timeline.ListForLead(c.Request.Context(), tenantID, leadID, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) GetNurturing(c *gin.Context) {
	_, tenantID, leadID, ok := leadScope(c)
	if !ok {
		return
	}

	enrollment, err := h.nurturing.Get(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, enrollment)
}

func (h *Handler) Enroll(c *gin.Context) {
	_, tenantID, leadID, ok := leadScope(c)
	if !ok {
		return
	}

	var req transport.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	enrollment, err := h.nurturing.Enroll(c.Request.Context(), tenantID, leadID, req.SequenceID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, enrollment)
}

func (h *Handler) CancelNurturing(c *gin.Context) {
	_, tenantID, leadID, ok := leadScope(c)
	if !ok {
		return
	}

	var req transport.CancelNurturingRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	enrollment, err := h.nurturing.Cancel(c.Request.Context(), tenantID, leadID, req.SequenceID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, enrollment)
}
