package domain

import (
	"time"

	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
)

// NurturingAction tells the caller what the outcome implies for the lead's
// nurturing enrollment. The engine never touches the scheduler itself.
type NurturingAction string

const (
	NurturingNone           NurturingAction = "none"
	NurturingCancelActive   NurturingAction = "cancel_active"
	NurturingEnrollNoAnswer NurturingAction = "enroll_no_answer"
)

// Patch is the bounded set of lead fields an outcome rewrites. Fields hold
// resulting values; a nil NextCallbackAt means the callback is cleared.
type Patch struct {
	Outcome        OutcomeKind
	Status         Status
	CallAttempts   int
	NextCallbackAt *time.Time
	RefusalReason  *RefusalReason
	LastCallAt     time.Time
	// RecomputeScore asks the caller to run the scoring collaborator.
	RecomputeScore bool
	Nurturing      NurturingAction
}

// Apply returns a copy of lead with the patch written over it.
func (p Patch) Apply(lead Lead) Lead {
	lead.Status = p.Status
	lead.CallAttempts = p.CallAttempts
	lead.NextCallbackAt = copyTime(p.NextCallbackAt)
	lead.RefusalReason = p.RefusalReason
	lastCall := p.LastCallAt
	lead.LastCallAt = &lastCall
	return lead
}

// StatusChanged reports whether applying the patch moves the lead.
func (p Patch) StatusChanged(lead Lead) bool {
	return p.Status != lead.Status
}

// Transition computes the patch a call outcome applies to a lead. It has no
// side effects; for AppointmentSet the calendar booking must already be
// confirmed and attached to the outcome.
func Transition(lead Lead, outcome Outcome, now time.Time) (Patch, error) {
	if outcome == nil {
		return Patch{}, apperr.InvalidPayload("select a call outcome")
	}
	if lead.Status.IsTerminal() {
		return Patch{}, errClosedLead(lead.Status)
	}

	patch := Patch{
		Outcome:        outcome.Kind(),
		Status:         lead.Status,
		CallAttempts:   lead.CallAttempts + 1,
		NextCallbackAt: pendingCallback(lead.NextCallbackAt, now),
		RefusalReason:  lead.RefusalReason,
		LastCallAt:     now,
		RecomputeScore: true,
		Nurturing:      NurturingNone,
	}

	switch o := outcome.(type) {
	case NoAnswer:
		if !lead.Status.richerThanNoAnswer() {
			patch.Status = StatusAttemptedNoAnswer
		}
		patch.Nurturing = NurturingEnrollNoAnswer

	case CallbackScheduled:
		if o.NextCallback.IsZero() {
			return Patch{}, apperr.InvalidPayload("select a callback time")
		}
		if !o.NextCallback.After(now) {
			return Patch{}, apperr.InvalidPayload("select a callback time in the future")
		}
		at := o.NextCallback
		patch.Status = StatusCallbackScheduled
		patch.NextCallbackAt = &at

	case Refusal:
		if o.Reason == "" {
			return Patch{}, apperr.InvalidPayload("select a refusal reason before closing the lead")
		}
		if !o.Reason.Valid() {
			return Patch{}, apperr.InvalidPayload("select a refusal reason from the list").
				WithDetails(map[string]string{"reason": string(o.Reason)})
		}
		reason := o.Reason
		patch.Status = reason.terminalStatus()
		patch.RefusalReason = &reason
		patch.NextCallbackAt = nil
		patch.Nurturing = NurturingCancelActive

	case AppointmentSet:
		if err := validateAppointment(o, now); err != nil {
			return Patch{}, err
		}
		start := o.Start
		patch.Status = StatusAppointmentSet
		patch.NextCallbackAt = &start
		patch.Nurturing = NurturingCancelActive

	default:
		return Patch{}, apperr.Internal("unhandled outcome kind").
			WithDetails(map[string]string{"outcome": string(outcome.Kind())})
	}

	return patch, nil
}

// CheckBookable reports whether an AppointmentSet outcome may go to the
// calendar: the lead is open and the requested slot is well formed. It runs
// before the booking so a rejected outcome never reserves a slot.
func CheckBookable(lead Lead, o AppointmentSet, now time.Time) error {
	if lead.Status.IsTerminal() {
		return errClosedLead(lead.Status)
	}
	return validateSlot(o, now)
}

func errClosedLead(status Status) error {
	return apperr.InvalidState("this lead is closed; reopen it before logging a call outcome").
		WithDetails(map[string]string{"status": string(status)})
}

func validateAppointment(o AppointmentSet, now time.Time) error {
	if err := validateSlot(o, now); err != nil {
		return err
	}
	if o.Booking == nil {
		return apperr.InvalidPayload("confirm the calendar booking before setting the appointment")
	}
	if o.Booking.CollaboratorID != o.CollaboratorID || !o.Booking.Start.Equal(o.Start) {
		return apperr.InvalidPayload("the calendar booking does not match the appointment; book the slot again")
	}
	return nil
}

func validateSlot(o AppointmentSet, now time.Time) error {
	if o.CollaboratorID == uuid.Nil {
		return apperr.InvalidPayload("select a staff member before confirming")
	}
	if o.Start.IsZero() || !o.Start.After(now) {
		return apperr.InvalidPayload("select an appointment time in the future")
	}
	if !o.End.IsZero() && !o.End.After(o.Start) {
		return apperr.InvalidPayload("the appointment must end after it starts")
	}
	return nil
}

// pendingCallback drops a callback whose time has come; the call being
// logged is the one that consumed it.
func pendingCallback(at *time.Time, now time.Time) *time.Time {
	if at == nil || !at.After(now) {
		return nil
	}
	return copyTime(at)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
