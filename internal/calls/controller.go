package calls

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"engagement_backend/internal/telephony"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/phone"

	"github.com/google/uuid"
)

// FeedStarter opens the resource bound to a connected call (the live
// transcription feed). StartFeed is called with the controller locked and
// must not block; ctx is cancelled and the closer called once the call
// leaves Connected.
type FeedStarter interface {
	StartFeed(ctx context.Context, call CallInfo) (io.Closer, error)
}

// ConnectRequest describes an outbound call for Controller.Connect.
type ConnectRequest struct {
	Target   string
	CallerID string
	LeadID   *uuid.UUID
}

// Controller drives one endpoint's call through its lifecycle. Transitions
// are serialized on mu; observers run on a single dispatch goroutine.
type Controller struct {
	endpoint  string
	provider  telephony.Provider
	feeds     FeedStarter
	newTicker TickerFactory
	region    string
	now       func() time.Time
	log       *logger.Logger
	notify    *notifier

	mu              sync.Mutex
	handle          telephony.Handle
	initFailed      bool
	session         Session
	call            telephony.Call
	generation      uint64
	hangupRequested bool
	stopTimer       chan struct{}
	feedCancel      context.CancelFunc
	feed            io.Closer
	observers       []Observer
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithFeedStarter binds a feed to every connected call.
func WithFeedStarter(f FeedStarter) ControllerOption {
	return func(c *Controller) { c.feeds = f }
}

// WithTicker replaces the one-second duration ticker.
func WithTicker(f TickerFactory) ControllerOption {
	return func(c *Controller) { c.newTicker = f }
}

// WithRegion sets the default region for numbers without a country prefix.
func WithRegion(region string) ControllerOption {
	return func(c *Controller) { c.region = region }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController creates an idle controller. Initialize must succeed before
// Connect is accepted. provider is shared; each controller keeps its own
// handle.
func NewController(endpoint string, provider telephony.Provider, log *logger.Logger, opts ...ControllerOption) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{
		endpoint:  endpoint,
		provider:  provider,
		newTicker: NewRealTicker,
		region:    phone.DefaultRegion,
		now:       time.Now,
		log:       &logger.Logger{Logger: log.WithComponent("calls").With("endpoint", endpoint)},
		session:   Session{Endpoint: endpoint, State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notify = newNotifier(c.log)
	return c
}

// Endpoint returns the operator endpoint key.
func (c *Controller) Endpoint() string { return c.endpoint }

// AddObserver registers o for all subsequent notifications.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Initialize exchanges the operator credential with the provider. A failure
// is final for this controller: it refuses Connect and further Initialize
// calls with ErrNotInitialized. A successful call may be repeated to renew
// the credential; live calls keep the handle they were placed with.
func (c *Controller) Initialize(ctx context.Context, credentialToken string) error {
	c.mu.Lock()
	failed := c.initFailed
	c.mu.Unlock()
	if failed {
		return ErrNotInitialized
	}

	handle, err := c.provider.Initialize(ctx, credentialToken)

	c.mu.Lock()
	if err != nil || handle == nil {
		c.initFailed = true
		c.handle = nil
	} else {
		c.handle = handle
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("telephony initialization failed", "error", err)
		return err
	}
	if handle == nil {
		return ErrNotInitialized
	}
	return nil
}

// Initialized reports whether Connect can be attempted.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// InitializationFailed reports whether the credential exchange failed,
// leaving this controller unusable.
func (c *Controller) InitializationFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initFailed
}

// Snapshot returns the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect starts an outbound call. It returns once the provider accepted
// the request; ringing and answer arrive asynchronously. Provider failures
// move the session to Error instead of being returned.
func (c *Controller) Connect(ctx context.Context, req ConnectRequest) (Session, error) {
	c.mu.Lock()
	if !c.session.State.CanConnect() {
		c.mu.Unlock()
		return Session{}, apperr.InvalidState(msgCallInProgress)
	}
	handle := c.handle
	if handle == nil {
		c.mu.Unlock()
		return Session{}, ErrNotInitialized
	}
	target, err := phone.ParseE164(req.Target, c.region)
	if err != nil {
		c.mu.Unlock()
		return Session{}, apperr.InvalidPayload(msgInvalidTarget)
	}

	now := c.now()
	c.generation++
	gen := c.generation
	c.call = nil
	c.hangupRequested = false
	from := c.session.State
	c.session = Session{
		CallID:       uuid.New(),
		Endpoint:     c.endpoint,
		LeadID:       req.LeadID,
		State:        StateConnecting,
		TargetNumber: target,
		StartedAt:    &now,
	}
	c.emitStatusLocked(from)
	callID := c.session.CallID
	c.mu.Unlock()

	call, err := handle.Connect(ctx, telephony.ConnectParams{
		To:       target,
		CallerID: req.CallerID,
		Metadata: map[string]string{"callId": callID.String(), "endpoint": c.endpoint},
	})

	if err != nil {
		message := "the call could not be placed"
		if errors.Is(err, telephony.ErrNotInitialized) {
			message = msgNotInitialized
		}
		c.log.Warn("provider connect failed", "call_id", callID.String(), "error", err)

		c.mu.Lock()
		if gen == c.generation && c.session.State.Live() {
			c.failLocked(message)
		}
		s := c.session
		c.mu.Unlock()
		c.closeFeedAsync()
		return s, nil
	}

	c.mu.Lock()
	if gen != c.generation || !c.session.State.Live() {
		c.mu.Unlock()
		_ = call.Hangup(context.WithoutCancel(ctx))
		return c.Snapshot(), nil
	}
	c.call = call
	c.session.ProviderCallID = call.ID()
	hangup := c.hangupRequested
	muted := c.session.Muted
	s := c.session
	c.mu.Unlock()

	go c.watch(gen, call)

	if muted {
		if err := call.Mute(ctx, true); err != nil {
			c.log.Warn("applying early mute failed", "error", err)
		}
	}
	if hangup {
		if err := call.Hangup(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("deferred hangup failed", "error", err)
		}
	}
	return s, nil
}

// HangUp asks the provider to end the call. The session becomes
// Disconnected only when the provider confirms.
func (c *Controller) HangUp(ctx context.Context) error {
	c.mu.Lock()
	if !c.session.State.Live() {
		c.mu.Unlock()
		return apperr.InvalidState(msgNoCall)
	}
	call := c.call
	if call == nil {
		c.hangupRequested = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return call.Hangup(ctx)
}

// ToggleMute flips the microphone state and returns the new value.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.session.State.Live() {
		c.mu.Unlock()
		return false, apperr.InvalidState(msgMuteUnavailable)
	}
	call := c.call
	target := !c.session.Muted
	if call == nil {
		c.session.Muted = target
		c.mu.Unlock()
		return target, nil
	}
	c.mu.Unlock()

	if err := call.Mute(ctx, target); err != nil {
		return !target, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == call {
		c.session.Muted = target
	}
	return target, nil
}

// Close stops the dispatch goroutine after queued notifications ran. It
// must not be called from an observer.
func (c *Controller) Close() {
	c.notify.close()
}

func (c *Controller) watch(gen uint64, call telephony.Call) {
	for ev := range call.Events() {
		c.handleEvent(gen, ev)
		if ev.Kind.IsTerminal() {
			return
		}
	}
	// Channel closed without a terminal event: treat as disconnect.
	c.handleEvent(gen, telephony.Event{Kind: telephony.EventDisconnect, OccurredAt: c.now()})
}

func (c *Controller) handleEvent(gen uint64, ev telephony.Event) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	from := c.session.State
	switch ev.Kind {
	case telephony.EventRinging:
		if from == StateConnecting {
			c.session.State = StateRinging
			c.emitStatusLocked(from)
		}
	case telephony.EventAccept:
		if from == StateConnecting || from == StateRinging {
			now := c.now()
			c.session.State = StateConnected
			c.session.ConnectedAt = &now
			c.emitStatusLocked(from)
			c.startTimerLocked(gen)
			c.startFeedLocked()
		}
	case telephony.EventDisconnect, telephony.EventCancel:
		if from.Live() {
			c.endLocked(StateDisconnected, "")
		}
	case telephony.EventError:
		if from.Live() {
			message := ev.Message
			if message == "" {
				message = "the call failed"
			}
			c.failLocked(message)
		}
	}
	c.mu.Unlock()

	if ev.Kind.IsTerminal() {
		c.closeFeedAsync()
	}
}

// failLocked moves a live session to Error.
func (c *Controller) failLocked(message string) {
	c.endLocked(StateError, message)
	s := c.session
	c.emitLocked(func(o Observer) { o.OnError(s, message) })
}

func (c *Controller) endLocked(to State, lastError string) {
	from := c.session.State
	now := c.now()
	c.session.State = to
	c.session.LastError = lastError
	c.session.EndedAt = &now
	c.call = nil
	c.stopTimerLocked()
	if c.feedCancel != nil {
		c.feedCancel()
		c.feedCancel = nil
	}
	c.emitStatusLocked(from)
	s := c.session
	c.emitLocked(func(o Observer) { o.OnCallEnd(s) })
}

func (c *Controller) startTimerLocked(gen uint64) {
	if c.stopTimer != nil {
		return
	}
	stop := make(chan struct{})
	c.stopTimer = stop
	ticker := c.newTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				c.tick(gen)
			}
		}
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.stopTimer != nil {
		close(c.stopTimer)
		c.stopTimer = nil
	}
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.session.State != StateConnected {
		return
	}
	c.session.DurationSeconds++
	s := c.session
	c.emitLocked(func(o Observer) { o.OnDurationTick(s) })
}

func (c *Controller) startFeedLocked() {
	if c.feeds == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.feedCancel = cancel
	info := CallInfo{
		CallID:         c.session.CallID,
		Endpoint:       c.endpoint,
		LeadID:         c.session.LeadID,
		ProviderCallID: c.session.ProviderCallID,
	}

	feed, err := c.feeds.StartFeed(ctx, info)
	if err != nil {
		c.log.Warn("transcription feed unavailable", "call_id", info.CallID.String(), "error", err)
		return
	}
	c.feed = feed
}

// closeFeedAsync releases the feed outside the lock; closing a socket may
// block on the network.
func (c *Controller) closeFeedAsync() {
	c.mu.Lock()
	feed := c.feed
	c.feed = nil
	c.mu.Unlock()
	if feed == nil {
		return
	}
	go func() {
		if err := feed.Close(); err != nil {
			c.log.Debug("closing transcription feed", "error", err)
		}
	}()
}

func (c *Controller) emitStatusLocked(from State) {
	s := c.session
	c.log.CallTransition(c.endpoint, string(from), string(s.State), s.DurationSeconds)
	c.emitLocked(func(o Observer) { o.OnStatusChange(s, from) })
}

func (c *Controller) emitLocked(fn func(Observer)) {
	observers := append([]Observer(nil), c.observers...)
	c.notify.enqueue(func() {
		for _, o := range observers {
			fn(o)
		}
	})
}
