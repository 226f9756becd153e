package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind names an outcome on the wire and in the activity log.
type OutcomeKind string

const (
	OutcomeNoAnswer          OutcomeKind = "no_answer"
	OutcomeAppointmentSet    OutcomeKind = "appointment_set"
	OutcomeCallbackScheduled OutcomeKind = "callback_scheduled"
	OutcomeRefusal           OutcomeKind = "refusal"
)

// ParseOutcomeKind validates a wire value.
func ParseOutcomeKind(value string) (OutcomeKind, error) {
	switch k := OutcomeKind(value); k {
	case OutcomeNoAnswer, OutcomeAppointmentSet, OutcomeCallbackScheduled, OutcomeRefusal:
		return k, nil
	}
	return "", fmt.Errorf("unknown outcome %q", value)
}

// Outcome is how an operator ended a call. The set of implementations is
// closed: NoAnswer, AppointmentSet, CallbackScheduled and Refusal.
type Outcome interface {
	Kind() OutcomeKind
	CallDuration() time.Duration
	sealed()
}

// NoAnswer records an unanswered attempt.
type NoAnswer struct {
	Duration time.Duration
}

// CallbackScheduled records an agreed time to call back.
type CallbackScheduled struct {
	Duration     time.Duration
	NextCallback time.Time
}

// Refusal records a prospect declining. Reason is required.
type Refusal struct {
	Duration time.Duration
	Reason   RefusalReason
	Note     string
}

// AppointmentSet records a booked appointment with a staff member. Booking
// must hold the calendar confirmation obtained before the transition.
type AppointmentSet struct {
	Duration       time.Duration
	CollaboratorID uuid.UUID
	Start          time.Time
	End            time.Time
	Booking        *BookingConfirmation
}

// BookingConfirmation proves the calendar collaborator persisted the slot.
type BookingConfirmation struct {
	AppointmentID  uuid.UUID
	CollaboratorID uuid.UUID
	Start          time.Time
	End            time.Time
}

func (NoAnswer) Kind() OutcomeKind          { return OutcomeNoAnswer }
func (CallbackScheduled) Kind() OutcomeKind { return OutcomeCallbackScheduled }
func (Refusal) Kind() OutcomeKind           { return OutcomeRefusal }
func (AppointmentSet) Kind() OutcomeKind    { return OutcomeAppointmentSet }

func (o NoAnswer) CallDuration() time.Duration          { return o.Duration }
func (o CallbackScheduled) CallDuration() time.Duration { return o.Duration }
func (o Refusal) CallDuration() time.Duration           { return o.Duration }
func (o AppointmentSet) CallDuration() time.Duration    { return o.Duration }

func (NoAnswer) sealed()          {}
func (CallbackScheduled) sealed() {}
func (Refusal) sealed()           {}
func (AppointmentSet) sealed()    {}
