package calls

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"engagement_backend/internal/telephony"
	"engagement_backend/platform/apperr"
)

type fixture struct {
	provider *fakeProvider
	ticks    *tickerSource
	feed     *fakeFeed
	rec      *recorder
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		ticks:    &tickerSource{},
		feed:     &fakeFeed{},
		rec:      &recorder{},
	}
	f.ctrl = NewController("tenant:user", f.provider, nil, WithTicker(f.ticks.factory), WithFeedStarter(f.feed))
	f.ctrl.AddObserver(f.rec)
	t.Cleanup(f.ctrl.Close)
	if err := f.ctrl.Initialize(context.Background(), "credential"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return f
}

func (f *fixture) state() State { return f.ctrl.Snapshot().State }

func (f *fixture) connectAndAnswer(t *testing.T) *fakeCall {
	t.Helper()
	if _, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "06 12 34 56 78"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	call := f.provider.last()
	call.emit(telephony.EventRinging, "")
	call.emit(telephony.EventAccept, "")
	waitFor(t, "connected", func() bool { return f.state() == StateConnected })
	return call
}

func TestConnectWithoutInitializeIsDistinguishable(t *testing.T) {
	ctrl := NewController("tenant:user", &fakeProvider{}, nil)
	defer ctrl.Close()

	_, err := ctrl.Connect(context.Background(), ConnectRequest{Target: "+33612345678"})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if apperr.Is(err, apperr.KindInvalidState) {
		t.Fatal("not-initialized must differ from invalid state")
	}
	if ctrl.Snapshot().State != StateIdle {
		t.Fatalf("state must stay idle, got %s", ctrl.Snapshot().State)
	}
}

func TestFailedInitializeRefusesConnect(t *testing.T) {
	ctrl := NewController("tenant:user", &fakeProvider{initErr: errors.New("bad token")}, nil)
	defer ctrl.Close()

	if err := ctrl.Initialize(context.Background(), "credential"); err == nil {
		t.Fatal("expected initialize error")
	}
	if ctrl.Initialized() {
		t.Fatal("controller must not be initialized")
	}
	if _, err := ctrl.Connect(context.Background(), ConnectRequest{Target: "+33612345678"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestFailedInitializeIsFinalForController(t *testing.T) {
	provider := &fakeProvider{initErr: errors.New("bad token")}
	ctrl := NewController("tenant:user", provider, nil)
	defer ctrl.Close()

	_ = ctrl.Initialize(context.Background(), "credential")
	provider.setInitErr(nil)

	if err := ctrl.Initialize(context.Background(), "credential"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized on retry, got %v", err)
	}
	if provider.initCount() != 1 {
		t.Fatalf("retry must not reach the provider, got %d exchanges", provider.initCount())
	}
	if !ctrl.InitializationFailed() || ctrl.Initialized() {
		t.Fatal("controller must stay failed")
	}
}

func TestConnectAcceptAndTicks(t *testing.T) {
	f := newFixture(t)

	sess, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "06 12 34 56 78"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.State != StateConnecting || sess.TargetNumber != "+33612345678" {
		t.Fatalf("unexpected session %+v", sess)
	}

	call := f.provider.last()
	call.emit(telephony.EventRinging, "")
	waitFor(t, "ringing", func() bool { return f.state() == StateRinging })
	if f.ticks.count() != 0 {
		t.Fatal("timer must not start before connected")
	}

	call.emit(telephony.EventAccept, "")
	waitFor(t, "connected", func() bool { return f.state() == StateConnected })

	for want := 1; want <= 3; want++ {
		if !f.ticks.tick(t) {
			t.Fatal("timer not running")
		}
		waitFor(t, "duration tick", func() bool { return f.ctrl.Snapshot().DurationSeconds == want })
	}

	waitFor(t, "tick notifications", func() bool { return len(f.rec.snapshot().ticks) == 3 })
	if got := f.rec.snapshot().ticks; !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("unexpected ticks %v", got)
	}
	if f.ticks.count() != 1 {
		t.Fatalf("timer must start exactly once, started %d", f.ticks.count())
	}
}

func TestConnectFromConnectedIsInvalidState(t *testing.T) {
	f := newFixture(t)
	f.connectAndAnswer(t)

	_, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "+33698765432"})
	if !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if f.state() != StateConnected {
		t.Fatalf("state must be unchanged, got %s", f.state())
	}
}

func TestConnectRejectsInvalidTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "12"})
	if !apperr.Is(err, apperr.KindInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if f.state() != StateIdle {
		t.Fatalf("state must stay idle, got %s", f.state())
	}
}

func TestHangUpIsARequest(t *testing.T) {
	f := newFixture(t)
	call := f.connectAndAnswer(t)
	f.ticks.tick(t)
	waitFor(t, "one second", func() bool { return f.ctrl.Snapshot().DurationSeconds == 1 })

	if err := f.ctrl.HangUp(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if call.hangupCount() != 1 {
		t.Fatal("provider hangup not requested")
	}
	if f.state() != StateConnected {
		t.Fatalf("hangup must not change state by itself, got %s", f.state())
	}

	call.emit(telephony.EventDisconnect, "")
	waitFor(t, "disconnected", func() bool { return f.state() == StateDisconnected })

	waitFor(t, "call end", func() bool { return len(f.rec.snapshot().ended) == 1 })
	rec := f.rec.snapshot()
	if rec.ended[0].DurationSeconds != 1 {
		t.Fatalf("expected final duration 1, got %d", rec.ended[0].DurationSeconds)
	}
	want := []State{StateConnecting, StateRinging, StateConnected, StateDisconnected}
	if !reflect.DeepEqual(rec.statuses, want) {
		t.Fatalf("unexpected transitions %v", rec.statuses)
	}
	if f.ticks.tick(t) {
		t.Fatal("timer must stop at teardown")
	}
	if err := f.ctrl.HangUp(context.Background()); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("hangup after disconnect should be invalid state, got %v", err)
	}
}

func TestFeedBoundToConnected(t *testing.T) {
	f := newFixture(t)
	call := f.connectAndAnswer(t)

	started, closed := f.feed.counts()
	if started != 1 || closed != 0 {
		t.Fatalf("expected feed open, started=%d closed=%d", started, closed)
	}
	if f.feed.started[0].ProviderCallID != call.ID() {
		t.Fatalf("feed got wrong call %+v", f.feed.started[0])
	}

	call.emit(telephony.EventError, "media lost")
	waitFor(t, "feed closed", func() bool { _, c := f.feed.counts(); return c == 1 })
	if f.feed.ctxs[0].Err() == nil {
		t.Fatal("feed context must be cancelled")
	}
}

func TestProviderErrorMovesToError(t *testing.T) {
	f := newFixture(t)
	call := f.connectAndAnswer(t)

	call.emit(telephony.EventError, "media lost")
	waitFor(t, "error", func() bool { return f.state() == StateError })

	sess := f.ctrl.Snapshot()
	if sess.LastError != "media lost" {
		t.Fatalf("unexpected last error %q", sess.LastError)
	}
	waitFor(t, "error notification", func() bool { return len(f.rec.snapshot().errors) == 1 })
	if f.ticks.tick(t) {
		t.Fatal("timer must stop on error")
	}

	// Retry is an explicit new connect.
	if _, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "+33612345678"}); err != nil {
		t.Fatalf("reconnect from error: %v", err)
	}
	if f.ctrl.Snapshot().LastError != "" {
		t.Fatal("last error must be cleared on a new call")
	}
}

func TestConnectFailureIsStateNotError(t *testing.T) {
	f := newFixture(t)
	f.provider.connectErr = apperr.ProviderFault("could not place the call", errCarrier)

	sess, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "+33612345678"})
	if err != nil {
		t.Fatalf("provider faults are reported through state, got %v", err)
	}
	if sess.State != StateError || sess.LastError == "" {
		t.Fatalf("expected error state, got %+v", sess)
	}
	waitFor(t, "error notification", func() bool { return len(f.rec.snapshot().errors) == 1 })
}

func TestLateEventsAreIgnored(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "+33612345678"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	call := f.provider.last()
	call.emit(telephony.EventCancel, "")
	waitFor(t, "disconnected", func() bool { return f.state() == StateDisconnected })

	f.ctrl.mu.Lock()
	gen := f.ctrl.generation
	f.ctrl.mu.Unlock()
	f.ctrl.handleEvent(gen, telephony.Event{Kind: telephony.EventAccept})
	if f.state() != StateDisconnected {
		t.Fatalf("accept after disconnect must be ignored, got %s", f.state())
	}
	if f.ticks.count() != 0 {
		t.Fatal("timer must not start after disconnect")
	}
}

func TestMute(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.ToggleMute(context.Background()); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("mute while idle should be invalid state, got %v", err)
	}

	call := f.connectAndAnswer(t)
	muted, err := f.ctrl.ToggleMute(context.Background())
	if err != nil || !muted {
		t.Fatalf("expected muted, got %v %v", muted, err)
	}
	muted, _ = f.ctrl.ToggleMute(context.Background())
	if muted {
		t.Fatal("expected unmuted after second toggle")
	}
	call.mu.Lock()
	got := append([]bool(nil), call.muted...)
	call.mu.Unlock()
	if !reflect.DeepEqual(got, []bool{true, false}) {
		t.Fatalf("unexpected provider mute calls %v", got)
	}
}

func TestHangUpBeforeProviderAnswers(t *testing.T) {
	f := newFixture(t)
	f.provider.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Connect(context.Background(), ConnectRequest{Target: "+33612345678"})
		done <- err
	}()
	waitFor(t, "connecting", func() bool { return f.state() == StateConnecting })

	if err := f.ctrl.HangUp(context.Background()); err != nil {
		t.Fatalf("hangup while connecting: %v", err)
	}
	close(f.provider.gate)
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if f.provider.last().hangupCount() != 1 {
		t.Fatal("deferred hangup must reach the provider")
	}
}
