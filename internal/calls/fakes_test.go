package calls

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"engagement_backend/internal/telephony"
)

type fakeCall struct {
	id     string
	events chan telephony.Event

	mu      sync.Mutex
	hangups int
	muted   []bool
}

func newFakeCall(id string) *fakeCall {
	return &fakeCall{id: id, events: make(chan telephony.Event, 16)}
}

func (c *fakeCall) ID() string                     { return c.id }
func (c *fakeCall) Events() <-chan telephony.Event { return c.events }

func (c *fakeCall) Hangup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangups++
	return nil
}

func (c *fakeCall) Mute(_ context.Context, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = append(c.muted, muted)
	return nil
}

func (c *fakeCall) hangupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangups
}

func (c *fakeCall) emit(kind telephony.EventKind, message string) {
	c.events <- telephony.Event{Kind: kind, Message: message, OccurredAt: time.Now()}
}

type fakeProvider struct {
	initErr    error
	connectErr error
	gate       chan struct{}

	mu    sync.Mutex
	inits int
	calls []*fakeCall
}

func (p *fakeProvider) Name() string { return "fake" }

// Initialize hands out the provider itself as the handle.
func (p *fakeProvider) Initialize(context.Context, string) (telephony.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	if p.initErr != nil {
		return nil, p.initErr
	}
	return p, nil
}

func (p *fakeProvider) setInitErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initErr = err
}

func (p *fakeProvider) initCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inits
}

func (p *fakeProvider) Connect(_ context.Context, params telephony.ConnectParams) (telephony.Call, error) {
	if p.gate != nil {
		<-p.gate
	}
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	call := newFakeCall("CA" + params.To)
	p.calls = append(p.calls, call)
	return call, nil
}

func (p *fakeProvider) last() *fakeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type tickerSource struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (s *tickerSource) factory(time.Duration) Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	s.tickers = append(s.tickers, t)
	return t
}

func (s *tickerSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickers)
}

// tick delivers one simulated second, failing if nobody is listening.
func (s *tickerSource) tick(t *testing.T) bool {
	t.Helper()
	s.mu.Lock()
	ticker := s.tickers[len(s.tickers)-1]
	s.mu.Unlock()
	select {
	case ticker.ch <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

type recorder struct {
	mu       sync.Mutex
	statuses []State
	ticks    []int
	ended    []Session
	errors   []string
}

func (r *recorder) OnStatusChange(s Session, _ State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s.State)
}

func (r *recorder) OnDurationTick(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, s.DurationSeconds)
}

func (r *recorder) OnCallEnd(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, s)
}

func (r *recorder) OnError(_ Session, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		statuses: append([]State(nil), r.statuses...),
		ticks:    append([]int(nil), r.ticks...),
		ended:    append([]Session(nil), r.ended...),
		errors:   append([]string(nil), r.errors...),
	}
}

type fakeFeed struct {
	mu      sync.Mutex
	started []CallInfo
	ctxs    []context.Context
	closed  int
}

func (f *fakeFeed) StartFeed(ctx context.Context, call CallInfo) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, call)
	f.ctxs = append(f.ctxs, ctx)
	return closerFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed++
		return nil
	}), nil
}

func (f *fakeFeed) counts() (started, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started), f.closed
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errCarrier = errors.New("carrier unreachable")
