package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"engagement_backend/platform/apperr"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"
)

const (
	callEventBuffer = 32

	// Status callbacks can outrun the create-call response. They are held
	// for pendingStatusTTL and replayed when the call registers.
	pendingStatusTTL    = 30 * time.Second
	maxPendingPerCall   = 8
	maxPendingCallTotal = 1024
)

type pendingStatus struct {
	event      Event
	receivedAt time.Time
}

// RESTProvider drives calls through a JSON REST API and receives call state
// through status callbacks (see StatusWebhook).
type RESTProvider struct {
	baseURL        string
	apiKey         string
	callerID       string
	statusCallback string
	http           *http.Client
	log            *logger.Logger
	now            func() time.Time

	mu      sync.Mutex
	calls   map[string]*restCall
	pending map[string][]pendingStatus
}

// NewRESTProvider creates a provider from configuration.
func NewRESTProvider(cfg config.TelephonyConfig, log *logger.Logger) *RESTProvider {
	if log == nil {
		log = logger.Nop()
	}
	return &RESTProvider{
		baseURL:        strings.TrimRight(cfg.GetTelephonyBaseURL(), "/"),
		apiKey:         cfg.GetTelephonyAPIKey(),
		callerID:       cfg.GetTelephonyCallerID(),
		statusCallback: cfg.GetTelephonyStatusCallbackURL(),
		http:           &http.Client{Timeout: 15 * time.Second},
		log:            log.WithComponent("telephony"),
		now:            time.Now,
		calls:          make(map[string]*restCall),
		pending:        make(map[string][]pendingStatus),
	}
}

func (p *RESTProvider) Name() string { return "rest" }

type tokenRequest struct {
	Credential string `json:"credential"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Initialize exchanges credentialToken for a session token bound to the
// returned handle.
func (p *RESTProvider) Initialize(ctx context.Context, credentialToken string) (Handle, error) {
	if strings.TrimSpace(credentialToken) == "" {
		return nil, apperr.Validation("telephony credential is required")
	}

	var out tokenResponse
	if err := p.do(ctx, http.MethodPost, "/v1/tokens", p.apiKey, tokenRequest{Credential: credentialToken}, &out); err != nil {
		return nil, apperr.ProviderFault("telephony credential exchange failed", err)
	}
	if out.AccessToken == "" {
		return nil, apperr.ProviderFault("telephony credential exchange failed", fmt.Errorf("empty access token"))
	}

	return &restHandle{provider: p, token: out.AccessToken}, nil
}

type restHandle struct {
	provider *RESTProvider
	token    string
}

type createCallRequest struct {
	To             string            `json:"to"`
	From           string            `json:"from"`
	StatusCallback string            `json:"statusCallback,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type createCallResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *restHandle) Connect(ctx context.Context, params ConnectParams) (Call, error) {
	if h == nil || h.token == "" {
		return nil, ErrNotInitialized
	}
	p := h.provider

	from := params.CallerID
	if from == "" {
		from = p.callerID
	}

	var out createCallResponse
	err := p.do(ctx, http.MethodPost, "/v1/calls", h.token, createCallRequest{
		To:             params.To,
		From:           from,
		StatusCallback: p.statusCallback,
		Metadata:       params.Metadata,
	}, &out)
	if err != nil {
		return nil, apperr.ProviderFault("could not place the call", err)
	}
	if out.ID == "" {
		return nil, apperr.ProviderFault("could not place the call", fmt.Errorf("provider returned no call id"))
	}

	call := &restCall{id: out.ID, token: h.token, provider: p, events: make(chan Event, callEventBuffer)}
	p.register(call, out.Status)
	return call, nil
}

// register makes call routable, then delivers the create-call status and any
// callbacks that arrived before it, in that order.
func (p *RESTProvider) register(call *restCall, initialStatus string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[call.id] = call
	early := p.pending[call.id]
	delete(p.pending, call.id)

	if kind, ok := EventForStatus(initialStatus); ok {
		p.deliverLocked(call, Event{Kind: kind, OccurredAt: p.now()})
	}
	cutoff := p.now().Add(-pendingStatusTTL)
	for _, ps := range early {
		if ps.receivedAt.Before(cutoff) {
			continue
		}
		p.deliverLocked(call, ps.event)
	}
	if len(early) > 0 {
		p.log.Debug("replayed early status callbacks", "provider_call_id", call.id, "count", len(early))
	}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// SendSMS sends a text message from the configured caller id. It uses the
// account API key and does not need Initialize.
func (p *RESTProvider) SendSMS(ctx context.Context, to, body string) error {
	if err := p.do(ctx, http.MethodPost, "/v1/messages", p.apiKey, smsRequest{To: to, From: p.callerID, Body: body}, nil); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

// HandleStatus routes a status callback to its live call. Statuses for a
// call id not registered yet are held briefly for replay; it reports whether
// the status was delivered now.
func (p *RESTProvider) HandleStatus(providerCallID, status, message string) bool {
	kind, ok := EventForStatus(status)
	if !ok {
		return false
	}
	if kind == EventError && message == "" {
		message = "call failed"
	}
	ev := Event{Kind: kind, Message: message, OccurredAt: p.now()}

	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[providerCallID]
	if !ok {
		p.holdLocked(providerCallID, ev)
		p.log.Debug("status held for unregistered call", "provider_call_id", providerCallID, "status", status)
		return false
	}

	p.deliverLocked(call, ev)
	return true
}

// holdLocked buffers ev for an unknown call id and drops expired entries.
func (p *RESTProvider) holdLocked(providerCallID string, ev Event) {
	now := p.now()
	cutoff := now.Add(-pendingStatusTTL)
	for id, held := range p.pending {
		if len(held) == 0 || held[len(held)-1].receivedAt.Before(cutoff) {
			delete(p.pending, id)
		}
	}

	held := p.pending[providerCallID]
	if held == nil && len(p.pending) >= maxPendingCallTotal {
		p.log.Warn("dropped status callback, too many unregistered calls", "provider_call_id", providerCallID)
		return
	}
	if len(held) >= maxPendingPerCall {
		held = held[1:]
	}
	p.pending[providerCallID] = append(held, pendingStatus{event: ev, receivedAt: now})
}

// ActiveCalls returns the number of calls still awaiting a terminal event.
func (p *RESTProvider) ActiveCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// PendingStatuses returns the number of call ids with held callbacks.
func (p *RESTProvider) PendingStatuses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *RESTProvider) deliverLocked(call *restCall, ev Event) {
	if !call.push(ev) {
		p.log.Warn("dropped call event", "provider_call_id", call.id, "kind", string(ev.Kind))
	}
	if ev.Kind.IsTerminal() {
		delete(p.calls, call.id)
	}
}

func (p *RESTProvider) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type restCall struct {
	id       string
	token    string
	provider *RESTProvider
	events   chan Event

	mu     sync.Mutex
	closed bool
}

func (c *restCall) ID() string           { return c.id }
func (c *restCall) Events() <-chan Event { return c.events }

// push never blocks. The channel is closed after the first terminal event.
func (c *restCall) push(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	delivered := true
	select {
	case c.events <- ev:
	default:
		delivered = false
	}
	if ev.Kind.IsTerminal() {
		c.closed = true
		close(c.events)
	}
	return delivered
}

func (c *restCall) Hangup(ctx context.Context) error {
	if err := c.provider.do(ctx, http.MethodPost, "/v1/calls/"+c.id+"/hangup", c.token, nil, nil); err != nil {
		return apperr.ProviderFault("hangup request failed", err)
	}
	return nil
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (c *restCall) Mute(ctx context.Context, muted bool) error {
	if err := c.provider.do(ctx, http.MethodPost, "/v1/calls/"+c.id+"/mute", c.token, muteRequest{Muted: muted}, nil); err != nil {
		return apperr.ProviderFault("mute request failed", err)
	}
	return nil
}

var (
	_ Provider     = (*RESTProvider)(nil)
	_ Handle       = (*restHandle)(nil)
	_ StatusRouter = (*RESTProvider)(nil)
)
