package calls

import (
	"context"
	"net/http"
	"time"

	"engagement_backend/platform/apperr"
	"engagement_backend/platform/httpkit"
	"engagement_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// SuggestionDismisser clears the advisory suggestion shown for an endpoint.
type SuggestionDismisser interface {
	Dismiss(endpoint string) bool
}

// CallLog reads finished calls.
type CallLog interface {
	ListForLead(ctx context.Context, organizationID, leadID uuid.UUID, limit int) ([]LogEntry, error)
}

// TranscriptIndex finds the archived transcript object of a call.
type TranscriptIndex interface {
	TranscriptKey(ctx context.Context, organizationID, callID uuid.UUID) (string, error)
}

// TranscriptLinker issues a time-limited download URL for a stored object.
type TranscriptLinker interface {
	TranscriptURL(ctx context.Context, key string) (string, time.Time, error)
}

// TranscriptLinkResponse is returned by GET /calls/:id/transcript.
type TranscriptLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InitializeRequest carries the operator's softphone credential.
type InitializeRequest struct {
	CredentialToken string `json:"credentialToken" validate:"required,max=4096"`
}

// ConnectCallRequest dials a lead or a raw number.
type ConnectCallRequest struct {
	Target string     `json:"target" validate:"required,phone"`
	LeadID *uuid.UUID `json:"leadId,omitempty"`
}

// HistoryRequest selects the call log of one lead.
type HistoryRequest struct {
	LeadID string `form:"leadId" validate:"required,uuid"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

// Handler exposes the operator's line over HTTP. Every route acts on the
// caller's own endpoint.
type Handler struct {
	board    *Switchboard
	callerID string
	dismiss  SuggestionDismisser
	history  CallLog
	index    TranscriptIndex
	links    TranscriptLinker
	val      *validator.Validator
}

func NewHandler(board *Switchboard, callerID string, val *validator.Validator) *Handler {
	if val == nil {
		val = validator.New()
	}
	return &Handler{board: board, callerID: callerID, val: val}
}

// SetSuggestionDismisser enables POST /calls/suggestion/dismiss.
func (h *Handler) SetSuggestionDismisser(d SuggestionDismisser) { h.dismiss = d }

// SetCallLog enables GET /calls/history.
func (h *Handler) SetCallLog(l CallLog) { h.history = l }

// SetTranscripts enables GET /calls/:id/transcript.
func (h *Handler) SetTranscripts(index TranscriptIndex, links TranscriptLinker) {
	h.index, h.links = index, links
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Connect)
	rg.POST("/initialize", h.Initialize)
	rg.POST("/hangup", h.HangUp)
	rg.POST("/mute", h.ToggleMute)
	rg.GET("/current", h.Current)
	rg.POST("/suggestion/dismiss", h.DismissSuggestion)
	rg.GET("/history", h.History)
	rg.GET("/:id/transcript", h.Transcript)
}

func endpointFor(c *gin.Context) (string, uuid.UUID, bool) {
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return "", uuid.Nil, false
	}
	return EndpointKey(tenantID, identity.UserID()), tenantID, true
}

func (h *Handler) Initialize(c *gin.Context) {
	endpoint, _, ok := endpointFor(c)
	if !ok {
		return
	}

	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.board.Initialize(c.Request.Context(), endpoint, req.CredentialToken); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, h.board.Snapshot(endpoint))
}

func (h *Handler) Connect(c *gin.Context) {
	endpoint, _, ok := endpointFor(c)
	if !ok {
		return
	}

	var req ConnectCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidTarget, err.Error())
		return
	}

	sess, err := h.board.Connect(c.Request.Context(), endpoint, ConnectRequest{
		Target:   req.Target,
		CallerID: h.callerID,
		LeadID:   req.LeadID,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	if sess.State == StateError {
		httpkit.Error(c, http.StatusBadGateway, sess.LastError, sess)
		return
	}

	httpkit.JSON(c, http.StatusCreated, sess)
}

func (h *Handler) HangUp(c *gin.Context) {
	endpoint, _, ok := endpointFor(c)
	if !ok {
		return
	}

	if err := h.board.HangUp(c.Request.Context(), endpoint); httpkit.HandleError(c, err) {
		return
	}

	// Disconnected is confirmed later by the provider and pushed over SSE.
	httpkit.Accepted(c, h.board.Snapshot(endpoint))
}

func (h *Handler) ToggleMute(c *gin.Context) {
	endpoint, _, ok := endpointFor(c)
	if !ok {
		return
	}

	muted, err := h.board.ToggleMute(c.Request.Context(), endpoint)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"muted": muted})
}

func (h *Handler) Current(c *gin.Context) {
	endpoint, _, ok := endpointFor(c)
	if !ok {
		return
	}

	httpkit.OK(c, h.board.Snapshot(endpoint))
}

func (h *Handler) DismissSuggestion(c *gin.Context) {
	endpoint, _, ok := endpointFor(c)
	if !ok {
		return
	}
	if h.dismiss == nil {
		httpkit.OK(c, gin.H{"dismissed": false})
		return
	}

	httpkit.OK(c, gin.H{"dismissed": h.dismiss.Dismiss(endpoint)})
}

func (h *Handler) History(c *gin.Context) {
	_, tenantID, ok := endpointFor(c)
	if !ok {
		return
	}
	if h.history == nil {
		httpkit.OK(c, gin.H{"items": []LogEntry{}})
		return
	}

	var req HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	items, err := h.history.ListForLead(c.Request.Context(), tenantID, leadID, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Transcript(c *gin.Context) {
	_, tenantID, ok := endpointFor(c)
	if !ok {
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if h.index == nil || h.links == nil {
		httpkit.Error(c, http.StatusNotFound, msgNoTranscript, nil)
		return
	}

	key, err := h.index.TranscriptKey(c.Request.Context(), tenantID, callID)
	if httpkit.HandleError(c, err) {
		return
	}
	url, expiresAt, err := h.links.TranscriptURL(c.Request.Context(), key)
	if err != nil {
		httpkit.HandleError(c, apperr.DependencyFailure("the transcript is unavailable right now", err))
		return
	}

	httpkit.OK(c, TranscriptLinkResponse{URL: url, ExpiresAt: expiresAt})
}
