package transcription

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"engagement_backend/internal/calls"
	"engagement_backend/internal/events"
	"engagement_backend/internal/transcription/advisor"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/sanitize"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	analysisTimeout = 10 * time.Second
	archiveTimeout  = 10 * time.Second
)

// Sink receives feed output for the operator. Calls are made with the feed
// locked, so implementations must not block.
type Sink interface {
	SegmentReceived(call calls.CallInfo, seg Segment)
	// SuggestionChanged is called with nil when the suggestion is cleared.
	SuggestionChanged(call calls.CallInfo, s *Suggestion)
}

// Archiver stores the final transcript when the feed ends.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, key, text string) error
}

// Dialer opens the provider socket for a call.
type Dialer func(ctx context.Context, call calls.CallInfo) (*websocket.Conn, error)

// Feed is the transcript stream of one connected call. It starts reading
// on creation and cannot be restarted once closed.
type Feed struct {
	info     calls.CallInfo
	analyzer advisor.Analyzer
	sink     Sink
	archive  Archiver
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
	onClose  func()

	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	segments   []Segment
	current    *Suggestion
	currentSeq uint64
	nextSeq    uint64
}

func (f *Feed) run(dial Dialer) {
	defer close(f.done)

	conn, err := dial(f.ctx, f.info)
	if err != nil {
		if f.ctx.Err() == nil {
			f.log.Warn("transcription dial failed", "call_id", f.info.CallID.String(), "error", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(f.ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.log.Warn("transcription stream ended", "call_id", f.info.CallID.String(), "error", err)
			}
			return
		}
		f.handle(data)
	}
}

func (f *Feed) handle(data []byte) {
	seg, ok, err := DecodeMessage(data)
	if err != nil {
		f.log.Debug("ignoring malformed transcription frame", "error", err)
		return
	}
	if !ok || !seg.IsFinal {
		return
	}
	seg.Text = sanitize.Text(seg.Text)
	if seg.Text == "" {
		return
	}
	seg.TimestampMs = f.now().UnixMilli()

	f.mu.Lock()
	if f.ctx.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.segments = append(f.segments, seg)
	f.nextSeq++
	seq := f.nextSeq
	transcript := f.textsLocked()
	f.sink.SegmentReceived(f.info, seg)
	f.mu.Unlock()

	if f.analyzer == nil {
		return
	}
	in := advisor.Input{Segment: seg.Text, Transcript: transcript}
	if !f.group.TryGo(func() error {
		f.analyze(seq, in)
		return nil
	}) {
		f.log.AdvisoryDropped(f.info.CallID.String(), "analysis backlog", nil)
	}
}

// analyze never propagates failures: the feed is advisory.
func (f *Feed) analyze(seq uint64, in advisor.Input) {
	callID := f.info.CallID.String()
	defer func() {
		if r := recover(); r != nil {
			f.log.AdvisoryDropped(callID, "analyzer panic", fmt.Errorf("%v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(f.ctx, analysisTimeout)
	defer cancel()

	s, err := f.analyzer.Analyze(ctx, in)
	if err != nil {
		f.log.AdvisoryDropped(callID, "analysis failed", err)
		return
	}
	if s == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx.Err() != nil {
		return
	}
	if seq <= f.currentSeq {
		f.log.AdvisoryDropped(callID, "stale result", nil)
		return
	}
	f.current, f.currentSeq = s, seq
	f.sink.SuggestionChanged(f.info, s)
}

// Dismiss clears the current suggestion. Analyses still running for
// segments already received will not bring it back.
func (f *Feed) Dismiss() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentSeq = f.nextSeq
	if f.current == nil {
		return
	}
	f.current = nil
	f.sink.SuggestionChanged(f.info, nil)
}

// Current returns the displayed suggestion, if any.
func (f *Feed) Current() *Suggestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Segments returns the final segments received so far, in receipt order.
func (f *Feed) Segments() []Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Segment(nil), f.segments...)
}

// Close tears the feed down: socket closed, running analyses cancelled and
// awaited, transcript archived. It is safe to call more than once.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		<-f.done
		_ = f.group.Wait()

		f.mu.Lock()
		if f.current != nil {
			f.current = nil
			f.sink.SuggestionChanged(f.info, nil)
		}
		text := f.transcriptLocked()
		f.mu.Unlock()

		if f.archive != nil && text != "" {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			key := calls.TranscriptKey(f.info.Endpoint, f.info.CallID)
			if err := f.archive.ArchiveTranscript(ctx, key, text); err != nil {
				f.log.DependencyFailure("storage", "archive transcript", err)
			} else {
				f.publishArchived(ctx, key)
			}
		}
		if f.onClose != nil {
			f.onClose()
		}
	})
	return nil
}

func (f *Feed) publishArchived(ctx context.Context, key string) {
	if f.bus == nil {
		return
	}
	tenantID, _, err := calls.ParseEndpointKey(f.info.Endpoint)
	if err != nil {
		f.log.Warn("transcript archived for unparseable endpoint", "endpoint", f.info.Endpoint, "error", err)
		return
	}
	f.bus.Publish(ctx, events.TranscriptArchived{
		BaseEvent: events.NewBaseEvent(),
		CallID:    f.info.CallID,
		TenantID:  tenantID,
		ObjectKey: key,
	})
}

func (f *Feed) textsLocked() []string {
	out := make([]string, len(f.segments))
	for i, s := range f.segments {
		out[i] = s.Text
	}
	return out
}

func (f *Feed) transcriptLocked() string {
	var b strings.Builder
	for _, s := range f.segments {
		b.WriteString(time.UnixMilli(s.TimestampMs).UTC().Format("15:04:05"))
		b.WriteString(" ")
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
