// Package calls owns the operator call sessions: one state machine per
// operator endpoint, driven by telephony provider events.
package calls

import (
	"time"

	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateRinging      State = "ringing"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Live reports whether the session holds a provider call.
func (s State) Live() bool {
	return s == StateConnecting || s == StateRinging || s == StateConnected
}

// CanConnect reports whether a new call may start from this state.
func (s State) CanConnect() bool {
	return s == StateIdle || s == StateDisconnected || s == StateError
}

// Session is a snapshot of the current or last call on an endpoint.
type Session struct {
	CallID          uuid.UUID  `json:"callId"`
	Endpoint        string     `json:"endpoint"`
	LeadID          *uuid.UUID `json:"leadId,omitempty"`
	State           State      `json:"state"`
	TargetNumber    string     `json:"targetNumber,omitempty"`
	ProviderCallID  string     `json:"providerCallId,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	Muted           bool       `json:"muted"`
	LastError       string     `json:"lastError,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	ConnectedAt     *time.Time `json:"connectedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// CallInfo identifies a connected call for scoped resources such as the
// transcription feed.
type CallInfo struct {
	CallID         uuid.UUID
	Endpoint       string
	LeadID         *uuid.UUID
	ProviderCallID string
}

const (
	msgCallInProgress  = "a call is already in progress on this line"
	msgNoCall          = "there is no call to hang up"
	msgMuteUnavailable = "mute is only available during a call"
	msgNotInitialized  = "telephony is not initialized for this line, reload the softphone"
	msgNoTranscript    = "no transcript was archived for this call"
	msgInvalidTarget   = "enter a valid phone number to call"
)

// ErrNotInitialized is returned by Connect when the provider credential step
// has not succeeded. It matches with errors.Is.
var ErrNotInitialized = apperr.New(apperr.KindProviderFault, msgNotInitialized)
