package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"engagement_backend/internal/calls"
	"engagement_backend/internal/events"
	"engagement_backend/internal/transcription/advisor"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type wsConfig struct{ url string }

func (c wsConfig) GetTranscriptionWSURL() string  { return c.url }
func (c wsConfig) GetTranscriptionAPIKey() string { return "stt-key" }
func (c wsConfig) GetAdvisoryConcurrency() int    { return 2 }

type wsServer struct {
	frames chan string
	closed chan struct{}
	header chan http.Header
	query  chan string
	srv    *httptest.Server
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		frames: make(chan string, 16),
		closed: make(chan struct{}),
		header: make(chan http.Header, 1),
		query:  make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.header <- r.Header.Clone()
		ws.query <- r.URL.Query().Get("callId")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					close(ws.closed)
					return
				}
			}
		}()
		for {
			select {
			case f := <-ws.frames:
				_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
			case <-ws.closed:
				return
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) dialer() Dialer {
	return WebSocketDialer(wsConfig{url: "ws" + strings.TrimPrefix(ws.srv.URL, "http")})
}

func (ws *wsServer) send(t *testing.T, text string, final bool) {
	t.Helper()
	frame, err := EncodeMessage(text, final)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ws.frames <- string(frame)
}

type recordingSink struct {
	mu          sync.Mutex
	segments    []Segment
	suggestions []*Suggestion
}

func (r *recordingSink) SegmentReceived(_ calls.CallInfo, seg Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, seg)
}

func (r *recordingSink) SuggestionChanged(_ calls.CallInfo, s *Suggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suggestions = append(r.suggestions, s)
}

func (r *recordingSink) counts() (segments, suggestions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments), len(r.suggestions)
}

func (r *recordingSink) lastSuggestion() *Suggestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.suggestions) == 0 {
		return nil
	}
	return r.suggestions[len(r.suggestions)-1]
}

type memoryArchive struct {
	mu    sync.Mutex
	key   string
	text  string
	calls int
	err   error
}

func (a *memoryArchive) ArchiveTranscript(_ context.Context, key, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	a.key, a.text = key, text
	return nil
}

type funcAnalyzer func(ctx context.Context, in advisor.Input) (*Suggestion, error)

func (f funcAnalyzer) Analyze(ctx context.Context, in advisor.Input) (*Suggestion, error) {
	return f(ctx, in)
}

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

func testCall() calls.CallInfo {
	return calls.CallInfo{CallID: uuid.New(), Endpoint: uuid.NewString() + ":" + uuid.NewString(), ProviderCallID: "CA1"}
}

func startFeed(t *testing.T, m *Manager, info calls.CallInfo) *Feed {
	t.Helper()
	closer, err := m.StartFeed(context.Background(), info)
	if err != nil {
		t.Fatalf("start feed: %v", err)
	}
	f := closer.(*Feed)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestEncodeMessageIsByteExact(t *testing.T) {
	got, err := EncodeMessage("C'est <trop> cher & long", true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"event":"transcript","text":"C'est <trop> cher & long","isFinal":true}`
	if string(got) != want {
		t.Fatalf("unexpected frame\n got %s\nwant %s", got, want)
	}
}

func TestDecodeMessage(t *testing.T) {
	seg, ok, err := DecodeMessage([]byte(`{"event":"transcript","text":"bonjour","isFinal":false}`))
	if err != nil || !ok || seg.Text != "bonjour" || seg.IsFinal {
		t.Fatalf("unexpected decode %+v %v %v", seg, ok, err)
	}
	if _, ok, err := DecodeMessage([]byte(`{"event":"speaker_change"}`)); ok || err != nil {
		t.Fatalf("other events must be ignored, got %v %v", ok, err)
	}
	if _, _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFeedKeepsFinalSegmentsAndSuggests(t *testing.T) {
	ws := newWSServer(t)
	sink := &recordingSink{}
	archive := &memoryArchive{}
	m := NewManager(ws.dialer(), advisor.NewKeywordAnalyzer(), sink, nil)
	m.SetArchiver(archive)
	info := testCall()
	f := startFeed(t, m, info)

	if got := <-ws.query; got != info.CallID.String() {
		t.Fatalf("dial should carry the call id, got %q", got)
	}
	if auth := (<-ws.header).Get("Authorization"); auth != "Bearer stt-key" {
		t.Fatalf("unexpected auth header %q", auth)
	}

	ws.send(t, "c'est trop", false)
	ws.send(t, "C'est trop cher pour moi", true)
	ws.frames <- `{"event":"speaker_change","speaker":2}`
	ws.send(t, "Bonjour", true)

	waitFor(t, "two final segments", func() bool { n, _ := sink.counts(); return n == 2 })
	waitFor(t, "suggestion", func() bool { return f.Current() != nil })
	if s := f.Current(); s.Kind != advisor.KindObjection || s.Title != "Objection prix" {
		t.Fatalf("unexpected suggestion %+v", s)
	}
	segs := f.Segments()
	if segs[0].Text != "C'est trop cher pour moi" || segs[1].Text != "Bonjour" || !segs[0].IsFinal {
		t.Fatalf("unexpected segments %+v", segs)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-ws.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket should be closed on teardown")
	}
	if archive.calls != 1 || archive.key != calls.TranscriptKey(info.Endpoint, info.CallID) {
		t.Fatalf("unexpected archive %+v", archive)
	}
	if lines := strings.Split(strings.TrimSpace(archive.text), "\n"); len(lines) != 2 {
		t.Fatalf("expected two transcript lines, got %q", archive.text)
	}
	if sink.lastSuggestion() != nil {
		t.Fatal("teardown should clear the suggestion")
	}
	if _, ok := m.Feed(info.Endpoint); ok {
		t.Fatal("closed feed should be forgotten")
	}

	_ = f.Close()
	if archive.calls != 1 {
		t.Fatal("close must be idempotent")
	}
}

func TestAnalysisFailuresNeverStopTheFeed(t *testing.T) {
	ws := newWSServer(t)
	sink := &recordingSink{}
	var n atomic.Int32
	analyzer := funcAnalyzer(func(_ context.Context, in advisor.Input) (*Suggestion, error) {
		switch n.Add(1) {
		case 1:
			return nil, errors.New("model unavailable")
		case 2:
			panic("bad analyzer")
		default:
			return &Suggestion{Kind: advisor.KindPositiveSignal, Title: "ok", Body: in.Segment}, nil
		}
	})
	m := NewManager(ws.dialer(), analyzer, sink, nil)
	m.SetConcurrency(4)
	f := startFeed(t, m, testCall())

	for i, text := range []string{"un", "deux", "trois"} {
		ws.send(t, text, true)
		want := int32(i + 1)
		waitFor(t, "analysis of "+text, func() bool { return n.Load() == want })
	}

	waitFor(t, "suggestion", func() bool { return f.Current() != nil })
	if f.Current().Body != "trois" {
		t.Fatalf("unexpected suggestion %+v", f.Current())
	}
	if got, _ := sink.counts(); got != 3 {
		t.Fatalf("expected 3 segments, got %d", got)
	}
}

func TestStaleAnalysisIsDropped(t *testing.T) {
	ws := newWSServer(t)
	sink := &recordingSink{}
	release := make(chan struct{})
	analyzer := funcAnalyzer(func(ctx context.Context, in advisor.Input) (*Suggestion, error) {
		if in.Segment == "lent" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return &Suggestion{Kind: advisor.KindObjection, Title: in.Segment, Body: in.Segment}, nil
	})
	m := NewManager(ws.dialer(), analyzer, sink, nil)
	f := startFeed(t, m, testCall())

	ws.send(t, "lent", true)
	waitFor(t, "first segment", func() bool { return len(f.Segments()) == 1 })
	ws.send(t, "rapide", true)
	waitFor(t, "newer suggestion", func() bool { s := f.Current(); return s != nil && s.Title == "rapide" })

	close(release)
	time.Sleep(20 * time.Millisecond)
	if s := f.Current(); s.Title != "rapide" {
		t.Fatalf("stale result replaced newer suggestion: %+v", s)
	}
}

func TestBacklogDropsAnalysis(t *testing.T) {
	ws := newWSServer(t)
	release := make(chan struct{})
	var n atomic.Int32
	analyzer := funcAnalyzer(func(ctx context.Context, in advisor.Input) (*Suggestion, error) {
		n.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	m := NewManager(ws.dialer(), analyzer, nil, nil)
	m.SetConcurrency(1)
	f := startFeed(t, m, testCall())

	ws.send(t, "un", true)
	waitFor(t, "first analysis", func() bool { return n.Load() == 1 })
	ws.send(t, "deux", true)
	waitFor(t, "second segment", func() bool { return len(f.Segments()) == 2 })
	close(release)

	time.Sleep(20 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("analysis beyond the bound should be dropped, ran %d", n.Load())
	}
}

func TestDismiss(t *testing.T) {
	ws := newWSServer(t)
	sink := &recordingSink{}
	m := NewManager(ws.dialer(), advisor.NewKeywordAnalyzer(), sink, nil)
	info := testCall()
	f := startFeed(t, m, info)

	ws.send(t, "je dois réfléchir", true)
	waitFor(t, "suggestion", func() bool { return f.Current() != nil })

	if !m.Dismiss(info.Endpoint) {
		t.Fatal("dismiss should find the live feed")
	}
	if f.Current() != nil || sink.lastSuggestion() != nil {
		t.Fatal("suggestion should be cleared")
	}
	if m.Dismiss("t:nobody") {
		t.Fatal("unknown endpoint has no feed")
	}
}

func TestOnlyStoredTranscriptsAreAnnounced(t *testing.T) {
	bus := events.NewInMemoryBus(nil)
	var (
		mu       sync.Mutex
		archived []events.TranscriptArchived
	)
	bus.Subscribe(events.TranscriptArchived{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		archived = append(archived, e.(events.TranscriptArchived))
		return nil
	}))

	run := func(archive *memoryArchive, lines ...string) calls.CallInfo {
		ws := newWSServer(t)
		sink := &recordingSink{}
		m := NewManager(ws.dialer(), nil, sink, nil)
		m.SetArchiver(archive)
		m.SetEventBus(bus)
		info := testCall()
		f := startFeed(t, m, info)
		for _, line := range lines {
			ws.send(t, line, true)
		}
		waitFor(t, "segments", func() bool { n, _ := sink.counts(); return n == len(lines) })
		_ = f.Close()
		bus.Wait()
		return info
	}

	stored := run(&memoryArchive{}, "Bonjour")
	run(&memoryArchive{err: errors.New("bucket unavailable")}, "Bonjour")
	empty := &memoryArchive{}
	run(empty)

	if empty.calls != 0 {
		t.Fatal("an empty transcript must not be archived")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(archived) != 1 {
		t.Fatalf("expected one announcement, got %d", len(archived))
	}
	tenantID, _, _ := calls.ParseEndpointKey(stored.Endpoint)
	if got := archived[0]; got.CallID != stored.CallID || got.TenantID != tenantID || got.ObjectKey != calls.TranscriptKey(stored.Endpoint, stored.CallID) {
		t.Fatalf("unexpected announcement %+v", got)
	}
}

func TestDialFailureEndsQuietly(t *testing.T) {
	m := NewManager(func(context.Context, calls.CallInfo) (*websocket.Conn, error) {
		return nil, errors.New("refused")
	}, nil, nil, nil)
	closer, err := m.StartFeed(context.Background(), testCall())
	if err != nil {
		t.Fatalf("start feed: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = closer.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close should not hang after a dial failure")
	}
}

func TestCancelledContextTearsDown(t *testing.T) {
	ws := newWSServer(t)
	m := NewManager(ws.dialer(), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	closer, err := m.StartFeed(ctx, testCall())
	if err != nil {
		t.Fatalf("start feed: %v", err)
	}
	<-ws.query
	cancel()

	select {
	case <-ws.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelling the call context should close the socket")
	}
	_ = closer.Close()
}
