package transcription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"engagement_backend/internal/calls"
	"engagement_backend/internal/events"
	"engagement_backend/internal/transcription/advisor"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"

	"github.com/gorilla/websocket"
)

const defaultAdvisoryConcurrency = 2

// Manager creates one Feed per connected call and keeps the live ones
// addressable by operator endpoint.
type Manager struct {
	dial        Dialer
	analyzer    advisor.Analyzer
	sink        Sink
	archive     Archiver
	bus         events.Bus
	concurrency int
	log         *logger.Logger

	mu    sync.Mutex
	feeds map[string]*Feed
}

// NewManager creates a manager. analyzer may be nil to disable suggestions.
func NewManager(dial Dialer, analyzer advisor.Analyzer, sink Sink, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		dial:        dial,
		analyzer:    analyzer,
		sink:        sink,
		concurrency: defaultAdvisoryConcurrency,
		log:         log.WithComponent("transcription"),
		feeds:       make(map[string]*Feed),
	}
}

// SetArchiver enables transcript archiving on feed teardown.
func (m *Manager) SetArchiver(a Archiver) {
	m.archive = a
}

// SetEventBus publishes TranscriptArchived after each stored transcript.
func (m *Manager) SetEventBus(bus events.Bus) {
	m.bus = bus
}

// SetConcurrency bounds the number of analyses running per feed. Segments
// arriving while the bound is reached are not analysed.
func (m *Manager) SetConcurrency(n int) {
	if n > 0 {
		m.concurrency = n
	}
}

// StartFeed implements calls.FeedStarter. The socket is dialled in the
// background; StartFeed itself does not block.
func (m *Manager) StartFeed(ctx context.Context, info calls.CallInfo) (io.Closer, error) {
	if m.dial == nil {
		return nil, fmt.Errorf("transcription is not configured")
	}
	feedCtx, cancel := context.WithCancel(ctx)
	f := &Feed{
		info:     info,
		analyzer: m.analyzer,
		sink:     m.sink,
		archive:  m.archive,
		bus:      m.bus,
		log:      m.log,
		now:      time.Now,
		ctx:      feedCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	f.group.SetLimit(m.concurrency)
	f.onClose = func() { m.forget(info.Endpoint, f) }

	m.mu.Lock()
	previous := m.feeds[info.Endpoint]
	m.feeds[info.Endpoint] = f
	m.mu.Unlock()
	if previous != nil {
		go func() { _ = previous.Close() }()
	}

	go f.run(m.dial)
	return f, nil
}

// Feed returns the live feed of an endpoint.
func (m *Manager) Feed(endpoint string) (*Feed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[endpoint]
	return f, ok
}

// Dismiss clears the endpoint's suggestion. It reports whether a feed was live.
func (m *Manager) Dismiss(endpoint string) bool {
	f, ok := m.Feed(endpoint)
	if !ok {
		return false
	}
	f.Dismiss()
	return true
}

func (m *Manager) forget(endpoint string, f *Feed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feeds[endpoint] == f {
		delete(m.feeds, endpoint)
	}
}

// WebSocketDialer dials the configured provider URL with the call ids as
// query parameters and the API key as bearer token.
func WebSocketDialer(cfg config.TranscriptionConfig) Dialer {
	base := cfg.GetTranscriptionWSURL()
	apiKey := cfg.GetTranscriptionAPIKey()
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	return func(ctx context.Context, call calls.CallInfo) (*websocket.Conn, error) {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse transcription url: %w", err)
		}
		q := u.Query()
		q.Set("callId", call.CallID.String())
		if call.ProviderCallID != "" {
			q.Set("providerCallId", call.ProviderCallID)
		}
		u.RawQuery = q.Encode()

		header := http.Header{}
		if apiKey != "" {
			header.Set("Authorization", "Bearer "+apiKey)
		}
		conn, resp, err := dialer.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("transcription dial: %w (status %d)", err, resp.StatusCode)
			}
			return nil, fmt.Errorf("transcription dial: %w", err)
		}
		return conn, nil
	}
}

type nopSink struct{}

func (nopSink) SegmentReceived(calls.CallInfo, Segment)       {}
func (nopSink) SuggestionChanged(calls.CallInfo, *Suggestion) {}

var _ calls.FeedStarter = (*Manager)(nil)
