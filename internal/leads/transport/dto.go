package transport

import (
	"time"

	"engagement_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// RecordOutcomeRequest is the operator's end-of-call form. Only the fields of
// the chosen outcome are read; the transition rejects missing ones with an
// actionable message.
type RecordOutcomeRequest struct {
	Outcome          string     `json:"outcome" validate:"required,oneof=no_answer appointment_set callback_scheduled refusal"`
	CallID           *uuid.UUID `json:"callId,omitempty"`
	DurationSeconds  int        `json:"durationSeconds" validate:"gte=0,lte=86400"`
	NextCallbackAt   *time.Time `json:"nextCallbackAt,omitempty"`
	RefusalReason    string     `json:"refusalReason,omitempty" validate:"omitempty,oneof=not_interested already_trained too_expensive wrong_number do_not_call other"`
	CollaboratorID   *uuid.UUID `json:"collaboratorId,omitempty"`
	AppointmentStart *time.Time `json:"appointmentStart,omitempty"`
	AppointmentEnd   *time.Time `json:"appointmentEnd,omitempty"`
	Note             string     `json:"note,omitempty" validate:"max=1000"`
}

// ToOutcome builds the domain outcome for the request.
func (r RecordOutcomeRequest) ToOutcome() (domain.Outcome, error) {
	kind, err := domain.ParseOutcomeKind(r.Outcome)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(r.DurationSeconds) * time.Second

	switch kind {
	case domain.OutcomeNoAnswer:
		return domain.NoAnswer{Duration: duration}, nil
	case domain.OutcomeCallbackScheduled:
		return domain.CallbackScheduled{Duration: duration, NextCallback: valueOrZero(r.NextCallbackAt)}, nil
	case domain.OutcomeRefusal:
		return domain.Refusal{Duration: duration, Reason: domain.RefusalReason(r.RefusalReason), Note: r.Note}, nil
	default:
		appt := domain.AppointmentSet{
			Duration: duration,
			Start:    valueOrZero(r.AppointmentStart),
			End:      valueOrZero(r.AppointmentEnd),
		}
		if r.CollaboratorID != nil {
			appt.CollaboratorID = *r.CollaboratorID
		}
		return appt, nil
	}
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// EnrollRequest starts a nurturing sequence by hand.
type EnrollRequest struct {
	SequenceID string `json:"sequenceId" validate:"required,max=100"`
}

// CancelNurturingRequest optionally narrows the cancel to one sequence.
type CancelNurturingRequest struct {
	SequenceID string `form:"sequenceId" validate:"max=100"`
}

// ListActivitiesRequest pages the lead timeline.
type ListActivitiesRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=200"`
}

// LeadResponse is the wire representation of a lead.
type LeadResponse struct {
	ID             uuid.UUID  `json:"id"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Phone          string     `json:"phone"`
	Email          *string    `json:"email,omitempty"`
	WhatsAppOptIn  bool       `json:"whatsappOptIn"`
	Status         string     `json:"status"`
	CallAttempts   int        `json:"callAttempts"`
	Score          int        `json:"score"`
	NextCallbackAt *time.Time `json:"nextCallbackAt,omitempty"`
	RefusalReason  *string    `json:"refusalReason,omitempty"`
	LastCallAt     *time.Time `json:"lastCallAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewLeadResponse converts a domain lead.
func NewLeadResponse(l domain.Lead) LeadResponse {
	resp := LeadResponse{
		ID:             l.ID,
		FirstName:      l.FirstName,
		LastName:       l.LastName,
		Phone:          l.Phone,
		Email:          l.Email,
		WhatsAppOptIn:  l.WhatsAppOptIn,
		Status:         string(l.Status),
		CallAttempts:   l.CallAttempts,
		Score:          l.Score,
		NextCallbackAt: l.NextCallbackAt,
		LastCallAt:     l.LastCallAt,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
	if l.RefusalReason != nil {
		reason := string(*l.RefusalReason)
		resp.RefusalReason = &reason
	}
	return resp
}

// AppointmentSummary confirms the booked slot.
type AppointmentSummary struct {
	ID             uuid.UUID `json:"id"`
	CollaboratorID uuid.UUID `json:"collaboratorId"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// RecordOutcomeResponse is returned after an outcome is stored.
type RecordOutcomeResponse struct {
	Lead                LeadResponse        `json:"lead"`
	Outcome             string              `json:"outcome"`
	Appointment         *AppointmentSummary `json:"appointment,omitempty"`
	EnrolledSequenceID  string              `json:"enrolledSequenceId,omitempty"`
	CancelledSequenceID string              `json:"cancelledSequenceId,omitempty"`
	CancelledTaskCount  int                 `json:"cancelledTaskCount,omitempty"`
}
