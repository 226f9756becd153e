package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apphttp "engagement_backend/internal/http"
	"engagement_backend/internal/telephony"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type dismissRecorder struct{ endpoints []string }

func (d *dismissRecorder) Dismiss(endpoint string) bool {
	d.endpoints = append(d.endpoints, endpoint)
	return true
}

type transcriptStore struct {
	tenantID uuid.UUID
	keys     map[uuid.UUID]string
	linkErr  error
}

func (s *transcriptStore) TranscriptKey(_ context.Context, organizationID, callID uuid.UUID) (string, error) {
	key, ok := s.keys[callID]
	if !ok || organizationID != s.tenantID {
		return "", apperr.NotFound(msgNoTranscript)
	}
	return key, nil
}

func (s *transcriptStore) TranscriptURL(_ context.Context, key string) (string, time.Time, error) {
	if s.linkErr != nil {
		return "", time.Time{}, s.linkErr
	}
	return "https://storage.example.org/" + key, time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC), nil
}

type statusRouterFunc func(providerCallID, status, message string) bool

func (f statusRouterFunc) HandleStatus(providerCallID, status, message string) bool {
	return f(providerCallID, status, message)
}

type lineHarness struct {
	engine      *gin.Engine
	board       *Switchboard
	provider    *fakeProvider
	dismiss     *dismissRecorder
	transcripts *transcriptStore
	endpoint    string
}

func newLineHarness(t *testing.T) *lineHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	userID, tenantID := uuid.New(), uuid.New()
	h := &lineHarness{
		provider: &fakeProvider{},
		dismiss:  &dismissRecorder{},
		endpoint: EndpointKey(tenantID, userID),
	}
	h.transcripts = &transcriptStore{tenantID: tenantID, keys: map[uuid.UUID]string{}}
	h.board = NewSwitchboard(func(endpoint string) *Controller {
		return NewController(endpoint, h.provider, nil, WithTicker((&tickerSource{}).factory))
	}, nil)
	t.Cleanup(h.board.Close)

	handler := NewHandler(h.board, "+33100000000", nil)
	handler.SetSuggestionDismisser(h.dismiss)
	handler.SetTranscripts(h.transcripts, h.transcripts)
	module := NewModule(handler)
	module.SetStatusWebhook(telephony.StatusWebhook{
		Router: statusRouterFunc(func(string, string, string) bool { return true }),
		Secret: "whsec",
	})

	h.engine = gin.New()
	v1 := h.engine.Group("/api/v1")
	protected := v1.Group("", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, userID)
		c.Set(httpkit.ContextTenantIDKey, tenantID)
		c.Next()
	})
	module.RegisterRoutes(&apphttp.RouterContext{Engine: h.engine, V1: v1, Protected: protected})
	return h
}

func (h *lineHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func TestConnectRequiresInitialize(t *testing.T) {
	h := newLineHarness(t)

	rec := h.do(t, http.MethodPost, "/calls", map[string]any{"target": "+33612345678"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 before initialize, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := h.do(t, http.MethodPost, "/calls/initialize", map[string]any{"credentialToken": "tok"}); rec.Code != http.StatusOK {
		t.Fatalf("initialize: expected 200, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/calls", map[string]any{"target": "+33612345678"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess Session
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.State != StateConnecting || sess.Endpoint != h.endpoint {
		t.Fatalf("unexpected session %+v", sess)
	}

	if rec := h.do(t, http.MethodPost, "/calls", map[string]any{"target": "+33698765432"}); rec.Code != http.StatusConflict {
		t.Fatalf("second call: expected 409, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/calls/hangup", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("hangup: expected 202, got %d", rec.Code)
	}
}

func TestConnectRejectsBadTarget(t *testing.T) {
	h := newLineHarness(t)
	_ = h.board.Initialize(t.Context(), h.endpoint, "tok")

	rec := h.do(t, http.MethodPost, "/calls", map[string]any{"target": "12"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body httpkit.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != msgInvalidTarget {
		t.Fatalf("expected %q, got %q", msgInvalidTarget, body.Error)
	}
}

func TestConnectProviderFailure(t *testing.T) {
	h := newLineHarness(t)
	h.provider.connectErr = errors.New("upstream 500")
	_ = h.board.Initialize(t.Context(), h.endpoint, "tok")

	rec := h.do(t, http.MethodPost, "/calls", map[string]any{"target": "+33612345678"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if cur := h.do(t, http.MethodGet, "/calls/current", nil); cur.Code != http.StatusOK {
		t.Fatalf("current: expected 200, got %d", cur.Code)
	}
	if h.board.Snapshot(h.endpoint).State != StateError {
		t.Fatalf("expected error state, got %s", h.board.Snapshot(h.endpoint).State)
	}
}

func TestIdleLineRoutes(t *testing.T) {
	h := newLineHarness(t)

	if rec := h.do(t, http.MethodPost, "/calls/mute", nil); rec.Code != http.StatusConflict {
		t.Fatalf("mute without call: expected 409, got %d", rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/calls/current", nil)
	var sess Session
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.State != StateIdle {
		t.Fatalf("expected idle, got %s", sess.State)
	}
	if rec := h.do(t, http.MethodPost, "/calls/suggestion/dismiss", nil); rec.Code != http.StatusOK {
		t.Fatalf("dismiss: expected 200, got %d", rec.Code)
	}
	if len(h.dismiss.endpoints) != 1 || h.dismiss.endpoints[0] != h.endpoint {
		t.Fatalf("dismiss should target the caller's line, got %v", h.dismiss.endpoints)
	}
	if rec := h.do(t, http.MethodGet, "/calls/history?leadId="+uuid.NewString(), nil); rec.Code != http.StatusOK {
		t.Fatalf("history without log: expected 200, got %d", rec.Code)
	}
}

func TestTranscriptLink(t *testing.T) {
	h := newLineHarness(t)
	callID := uuid.New()
	h.transcripts.keys[callID] = "org/" + callID.String() + ".txt"

	rec := h.do(t, http.MethodGet, "/calls/"+callID.String()+"/transcript", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var link TranscriptLinkResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &link)
	if link.URL != "https://storage.example.org/org/"+callID.String()+".txt" || link.ExpiresAt.IsZero() {
		t.Fatalf("unexpected link %+v", link)
	}

	if rec := h.do(t, http.MethodGet, "/calls/"+uuid.NewString()+"/transcript", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown call: expected 404, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/calls/not-a-uuid/transcript", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}

	h.transcripts.linkErr = errors.New("minio down")
	if rec := h.do(t, http.MethodGet, "/calls/"+callID.String()+"/transcript", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("storage failure: expected 503, got %d", rec.Code)
	}
}

func TestStatusWebhookIsPublicAndSigned(t *testing.T) {
	h := newLineHarness(t)
	body := []byte("CallSid=CA1&CallStatus=ringing")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/telephony/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/telephony/status", bytes.NewReader(body))
	req.Header.Set(telephony.SignatureHeader, telephony.Sign("whsec", body))
	rec = httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("signed: expected 204, got %d", rec.Code)
	}
}
