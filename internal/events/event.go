// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"engagement_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Call Events
// =============================================================================

// CallEnded is published once a call session reaches Disconnected or Error.
type CallEnded struct {
	BaseEvent
	CallID          uuid.UUID  `json:"callId"`
	TenantID        uuid.UUID  `json:"tenantId"`
	UserID          uuid.UUID  `json:"userId"`
	LeadID          *uuid.UUID `json:"leadId,omitempty"`
	TargetNumber    string     `json:"targetNumber"`
	ProviderCallID  string     `json:"providerCallId,omitempty"`
	FinalState      string     `json:"finalState"`
	DurationSeconds int        `json:"durationSeconds"`
	LastError       string     `json:"lastError,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
}

func (e CallEnded) EventName() string { return "calls.call.ended" }

// TranscriptArchived is published once a call's transcript object was
// written to storage.
type TranscriptArchived struct {
	BaseEvent
	CallID    uuid.UUID `json:"callId"`
	TenantID  uuid.UUID `json:"tenantId"`
	ObjectKey string    `json:"objectKey"`
}

func (e TranscriptArchived) EventName() string { return "calls.transcript.archived" }

// =============================================================================
// Lead Events
// =============================================================================

// LeadOutcomeRecorded is published after a call outcome patch is persisted.
type LeadOutcomeRecorded struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	TenantID       uuid.UUID  `json:"tenantId"`
	ActorID        uuid.UUID  `json:"actorId"`
	Outcome        string     `json:"outcome"`
	PreviousStatus string     `json:"previousStatus"`
	Status         string     `json:"status"`
	CallAttempts   int        `json:"callAttempts"`
	NextCallbackAt *time.Time `json:"nextCallbackAt,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointmentId,omitempty"`
}

func (e LeadOutcomeRecorded) EventName() string { return "leads.outcome.recorded" }

// =============================================================================
// Nurturing Events
// =============================================================================

// NurturingEnrolled is published when a lead starts a sequence.
type NurturingEnrolled struct {
	BaseEvent
	EnrollmentID uuid.UUID `json:"enrollmentId"`
	TenantID     uuid.UUID `json:"tenantId"`
	LeadID       uuid.UUID `json:"leadId"`
	SequenceID   string    `json:"sequenceId"`
	TaskCount    int       `json:"taskCount"`
}

func (e NurturingEnrolled) EventName() string { return "nurturing.enrollment.created" }

// NurturingCancelled is published when an active enrollment is cancelled.
type NurturingCancelled struct {
	BaseEvent
	EnrollmentID   uuid.UUID `json:"enrollmentId"`
	TenantID       uuid.UUID `json:"tenantId"`
	LeadID         uuid.UUID `json:"leadId"`
	SequenceID     string    `json:"sequenceId"`
	CancelledTasks int       `json:"cancelledTasks"`
}

func (e NurturingCancelled) EventName() string { return "nurturing.enrollment.cancelled" }

// NurturingTaskExecuted is published after a due task is dispatched.
type NurturingTaskExecuted struct {
	BaseEvent
	TaskID              uuid.UUID `json:"taskId"`
	EnrollmentID        uuid.UUID `json:"enrollmentId"`
	TenantID            uuid.UUID `json:"tenantId"`
	LeadID              uuid.UUID `json:"leadId"`
	Channel             string    `json:"channel"`
	Skipped             bool      `json:"skipped"`
	EnrollmentCompleted bool      `json:"enrollmentCompleted"`
}

func (e NurturingTaskExecuted) EventName() string { return "nurturing.task.executed" }
