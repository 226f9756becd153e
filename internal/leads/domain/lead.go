// Package domain provides core business rules for the leads bounded context:
// the lead lifecycle statuses and the call outcome transition engine.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a lead.
type Status string

const (
	StatusProspect          Status = "Prospect"
	StatusAttemptedNoAnswer Status = "AttemptedNoAnswer"
	StatusContacted         Status = "Contacted"
	StatusCallbackScheduled Status = "CallbackScheduled"
	StatusAppointmentSet    Status = "AppointmentSet"
	StatusDisqualified      Status = "Disqualified"
	StatusArchived          Status = "Archived"
)

var knownStatuses = map[Status]bool{
	StatusProspect:          true,
	StatusAttemptedNoAnswer: true,
	StatusContacted:         true,
	StatusCallbackScheduled: true,
	StatusAppointmentSet:    true,
	StatusDisqualified:      true,
	StatusArchived:          true,
}

// ParseStatus validates a persisted status value. The legacy "New" and
// "Refused" spellings are accepted as aliases.
func ParseStatus(value string) (Status, error) {
	switch value {
	case "New":
		return StatusProspect, nil
	case "Refused":
		return StatusDisqualified, nil
	}
	s := Status(value)
	if !knownStatuses[s] {
		return "", fmt.Errorf("unknown lead status %q", value)
	}
	return s, nil
}

// IsTerminal reports whether the lead has left the engagement funnel.
// Terminal leads are only reopened through an explicit external edit.
func (s Status) IsTerminal() bool {
	return s == StatusArchived || s == StatusDisqualified
}

// richerThanNoAnswer reports whether the status carries more information
// than a bare unanswered attempt.
func (s Status) richerThanNoAnswer() bool {
	return s != StatusProspect && s != StatusAttemptedNoAnswer
}

// RefusalReason is the closed set of reasons an operator can pick when a
// prospect declines.
type RefusalReason string

const (
	RefusalNotInterested  RefusalReason = "not_interested"
	RefusalAlreadyTrained RefusalReason = "already_trained"
	RefusalTooExpensive   RefusalReason = "too_expensive"
	RefusalWrongNumber    RefusalReason = "wrong_number"
	RefusalDoNotCall      RefusalReason = "do_not_call"
	RefusalOther          RefusalReason = "other"
)

// Valid reports whether r is one of the known reasons.
func (r RefusalReason) Valid() bool {
	switch r {
	case RefusalNotInterested, RefusalAlreadyTrained, RefusalTooExpensive,
		RefusalWrongNumber, RefusalDoNotCall, RefusalOther:
		return true
	}
	return false
}

// terminalStatus is Disqualified for reasons that make the contact itself
// unusable, Archived otherwise.
func (r RefusalReason) terminalStatus() Status {
	if r == RefusalWrongNumber || r == RefusalDoNotCall {
		return StatusDisqualified
	}
	return StatusArchived
}

// Lead is the snapshot of a lead the engagement core reads and patches.
type Lead struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	FirstName      string
	LastName       string
	Phone          string
	Email          *string
	WhatsAppOptIn  bool
	Status         Status
	CallAttempts   int
	Score          int
	NextCallbackAt *time.Time
	RefusalReason  *RefusalReason
	LastCallAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName returns the lead's full name for messages.
func (l Lead) DisplayName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	default:
		return l.FirstName + " " + l.LastName
	}
}
