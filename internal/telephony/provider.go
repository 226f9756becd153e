// Package telephony is the provider boundary for outbound operator calls.
// Business logic talks to Provider and Call only; provider payloads stay here.
package telephony

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialized is returned by Connect on a handle whose credential
// exchange has not succeeded.
var ErrNotInitialized = errors.New("telephony: provider not initialized")

// EventKind is a provider signal for a live call.
type EventKind string

const (
	EventRinging    EventKind = "ringing"
	EventAccept     EventKind = "accept"
	EventDisconnect EventKind = "disconnect"
	EventCancel     EventKind = "cancel"
	EventError      EventKind = "error"
)

// IsTerminal reports whether no further events follow this one.
func (k EventKind) IsTerminal() bool {
	return k == EventDisconnect || k == EventCancel || k == EventError
}

// Event is one provider signal. Message is set for EventError.
type Event struct {
	Kind       EventKind
	Message    string
	OccurredAt time.Time
}

// ConnectParams describes an outbound call.
type ConnectParams struct {
	// To and CallerID are E.164.
	To       string
	CallerID string
	// Metadata is echoed back by the provider on status callbacks.
	Metadata map[string]string
}

// Call is a live provider call. Events is closed after a terminal event.
type Call interface {
	ID() string
	Events() <-chan Event
	Hangup(ctx context.Context) error
	Mute(ctx context.Context, muted bool) error
}

// Handle is one operator's authenticated session with the provider. Calls
// placed through a handle use its token for their whole life.
type Handle interface {
	Connect(ctx context.Context, params ConnectParams) (Call, error)
}

// Provider issues handles. One provider serves every endpoint; the operator
// identity lives in the Handle.
type Provider interface {
	Name() string
	// Initialize exchanges the operator credential for a session handle.
	Initialize(ctx context.Context, credentialToken string) (Handle, error)
}
