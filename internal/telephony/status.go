package telephony

import "strings"

// Provider call statuses as sent on status callbacks.
const (
	StatusInitiated  = "initiated"
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusAnswered   = "answered"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
	StatusFailed     = "failed"
)

// EventForStatus maps a provider status to an event kind. The second result
// is false for statuses that carry no signal for the controller.
func EventForStatus(status string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusRinging:
		return EventRinging, true
	case StatusInProgress, StatusAnswered, "in_progress":
		return EventAccept, true
	case StatusCompleted:
		return EventDisconnect, true
	case StatusBusy, StatusNoAnswer, StatusCanceled, "no_answer":
		return EventCancel, true
	case StatusFailed:
		return EventError, true
	default:
		return "", false
	}
}
