package calls

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"engagement_backend/platform/apperr"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
)

// leaseRefreshEvery is the number of connected seconds between lease refreshes.
const leaseRefreshEvery = 60

// EndpointKey identifies an operator endpoint.
func EndpointKey(tenantID, userID uuid.UUID) string {
	return tenantID.String() + ":" + userID.String()
}

// ParseEndpointKey splits a key built by EndpointKey.
func ParseEndpointKey(key string) (tenantID, userID uuid.UUID, err error) {
	tenant, user, ok := strings.Cut(key, ":")
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid endpoint key %q", key)
	}
	if tenantID, err = uuid.Parse(tenant); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid endpoint tenant: %w", err)
	}
	if userID, err = uuid.Parse(user); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid endpoint user: %w", err)
	}
	return tenantID, userID, nil
}

// TranscriptKey is the object key under which a call's transcript is archived.
func TranscriptKey(endpoint string, callID uuid.UUID) string {
	tenant, _, _ := strings.Cut(endpoint, ":")
	return tenant + "/" + callID.String() + ".txt"
}

// ControllerFactory builds the controller for a new endpoint.
type ControllerFactory func(endpoint string) *Controller

type line struct {
	ctrl   *Controller
	token  string
	callID uuid.UUID
}

// Switchboard owns one Controller per operator endpoint. With a Lease set,
// a line is also held across instances for the duration of a call.
type Switchboard struct {
	newController ControllerFactory
	lease         Lease
	log           *logger.Logger

	mu    sync.Mutex
	lines map[string]*line
}

// NewSwitchboard creates an empty switchboard.
func NewSwitchboard(factory ControllerFactory, log *logger.Logger) *Switchboard {
	if log == nil {
		log = logger.Nop()
	}
	return &Switchboard{
		newController: factory,
		log:           log.WithComponent("calls.switchboard"),
		lines:         make(map[string]*line),
	}
}

// SetLease enables the cross-instance endpoint lease.
func (s *Switchboard) SetLease(lease Lease) {
	s.lease = lease
}

// Line returns the endpoint's controller, creating it on first use.
func (s *Switchboard) Line(endpoint string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineLocked(endpoint).ctrl
}

func (s *Switchboard) lineLocked(endpoint string) *line {
	if l, ok := s.lines[endpoint]; ok {
		return l
	}
	l := &line{ctrl: s.newController(endpoint)}
	l.ctrl.AddObserver(ObserverFuncs{
		DurationTick: func(sess Session) {
			if sess.DurationSeconds%leaseRefreshEvery == 0 {
				s.refreshLease(endpoint, sess.CallID)
			}
		},
		CallEnd: func(sess Session) {
			s.releaseLease(endpoint, sess.CallID)
		},
	})
	s.lines[endpoint] = l
	return l
}

// Lookup returns the endpoint's controller without creating one.
func (s *Switchboard) Lookup(endpoint string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[endpoint]
	if !ok {
		return nil, false
	}
	return l.ctrl, true
}

// Initialize runs the credential exchange for the endpoint's controller. A
// controller whose exchange failed is discarded first, so the retry runs on
// a fresh instance.
func (s *Switchboard) Initialize(ctx context.Context, endpoint, credentialToken string) error {
	s.mu.Lock()
	var retired *Controller
	if l, ok := s.lines[endpoint]; ok && l.ctrl.InitializationFailed() && !l.ctrl.Snapshot().State.Live() {
		retired = l.ctrl
		delete(s.lines, endpoint)
	}
	ctrl := s.lineLocked(endpoint).ctrl
	s.mu.Unlock()

	if retired != nil {
		retired.Close()
		s.log.Info("replaced controller after failed initialization", "endpoint", endpoint)
	}
	return ctrl.Initialize(ctx, credentialToken)
}

// Connect places a call on the endpoint. A second live call on the same
// endpoint is rejected, locally and, with a lease, across instances.
func (s *Switchboard) Connect(ctx context.Context, endpoint string, req ConnectRequest) (Session, error) {
	s.mu.Lock()
	l := s.lineLocked(endpoint)
	ctrl := l.ctrl
	if !ctrl.Snapshot().State.CanConnect() {
		s.mu.Unlock()
		return Session{}, apperr.InvalidState(msgCallInProgress)
	}
	stale := l.token
	l.token, l.callID = "", uuid.Nil
	s.mu.Unlock()

	var token string
	if s.lease != nil {
		if stale != "" {
			if err := s.lease.Release(ctx, endpoint, stale); err != nil {
				s.log.DependencyFailure("redis", "release stale lease", err)
			}
		}
		var ok bool
		var err error
		token, ok, err = s.lease.Acquire(ctx, endpoint)
		if err != nil {
			return Session{}, apperr.DependencyFailure("could not reserve the line", err)
		}
		if !ok {
			return Session{}, apperr.InvalidState(msgCallInProgress)
		}
	}

	sess, err := ctrl.Connect(ctx, req)
	if token == "" {
		return sess, err
	}
	if err != nil || !sess.State.Live() {
		s.release(endpoint, token)
		return sess, err
	}

	s.mu.Lock()
	l.token, l.callID = token, sess.CallID
	s.mu.Unlock()

	if !ctrl.Snapshot().State.Live() {
		s.releaseLease(endpoint, sess.CallID)
	}
	return sess, nil
}

// HangUp requests teardown of the endpoint's call.
func (s *Switchboard) HangUp(ctx context.Context, endpoint string) error {
	ctrl, ok := s.Lookup(endpoint)
	if !ok {
		return apperr.InvalidState(msgNoCall)
	}
	return ctrl.HangUp(ctx)
}

// ToggleMute flips mute on the endpoint's call.
func (s *Switchboard) ToggleMute(ctx context.Context, endpoint string) (bool, error) {
	ctrl, ok := s.Lookup(endpoint)
	if !ok {
		return false, apperr.InvalidState(msgMuteUnavailable)
	}
	return ctrl.ToggleMute(ctx)
}

// Snapshot returns the endpoint's session, Idle if it never placed a call.
func (s *Switchboard) Snapshot(endpoint string) Session {
	ctrl, ok := s.Lookup(endpoint)
	if !ok {
		return Session{Endpoint: endpoint, State: StateIdle}
	}
	return ctrl.Snapshot()
}

// Close stops every controller's dispatch goroutine.
func (s *Switchboard) Close() {
	s.mu.Lock()
	lines := make([]*line, 0, len(s.lines))
	for _, l := range s.lines {
		lines = append(lines, l)
	}
	s.mu.Unlock()

	for _, l := range lines {
		l.ctrl.Close()
	}
}

func (s *Switchboard) releaseLease(endpoint string, callID uuid.UUID) {
	s.mu.Lock()
	l, ok := s.lines[endpoint]
	if !ok || l.token == "" || l.callID != callID {
		s.mu.Unlock()
		return
	}
	token := l.token
	l.token, l.callID = "", uuid.Nil
	s.mu.Unlock()

	s.release(endpoint, token)
}

func (s *Switchboard) release(endpoint, token string) {
	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx, endpoint, token); err != nil {
		s.log.DependencyFailure("redis", "release lease", err)
	}
}

func (s *Switchboard) refreshLease(endpoint string, callID uuid.UUID) {
	if s.lease == nil {
		return
	}
	s.mu.Lock()
	l, ok := s.lines[endpoint]
	if !ok || l.token == "" || l.callID != callID {
		s.mu.Unlock()
		return
	}
	token := l.token
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.Refresh(ctx, endpoint, token); err != nil {
		s.log.DependencyFailure("redis", "refresh lease", err)
	}
}
