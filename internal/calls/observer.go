package calls

import (
	"sync"
	"time"

	"engagement_backend/platform/logger"
)

// Observer receives session notifications. Calls are made one at a time on
// the controller's dispatch goroutine, in transition order.
type Observer interface {
	OnStatusChange(s Session, from State)
	OnDurationTick(s Session)
	OnCallEnd(s Session)
	OnError(s Session, message string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StatusChange func(s Session, from State)
	DurationTick func(s Session)
	CallEnd      func(s Session)
	Error        func(s Session, message string)
}

func (f ObserverFuncs) OnStatusChange(s Session, from State) {
	if f.StatusChange != nil {
		f.StatusChange(s, from)
	}
}

func (f ObserverFuncs) OnDurationTick(s Session) {
	if f.DurationTick != nil {
		f.DurationTick(s)
	}
}

func (f ObserverFuncs) OnCallEnd(s Session) {
	if f.CallEnd != nil {
		f.CallEnd(s)
	}
}

func (f ObserverFuncs) OnError(s Session, message string) {
	if f.Error != nil {
		f.Error(s, message)
	}
}

// notifier runs queued callbacks sequentially on a single goroutine. The
// queue is unbounded so a slow observer never blocks a transition.
type notifier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	log    *logger.Logger
}

func newNotifier(log *logger.Logger) *notifier {
	n := &notifier{done: make(chan struct{}), log: log}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier) enqueue(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, fn)
	n.cond.Signal()
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		fn := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.mu.Unlock()

		n.call(fn)
	}
}

func (n *notifier) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("call observer panicked", "panic", r)
		}
	}()
	fn()
}

// close drains queued callbacks and stops the goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Signal()
	n.mu.Unlock()
	<-n.done
}

// Ticker abstracts time.Ticker so tests can drive the duration counter.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker is the production TickerFactory.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}
