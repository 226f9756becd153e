// Package nurturing enrolls leads into timed multi-channel sequences and
// executes their tasks. A lead has at most one active enrollment.
package nurturing

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus is the lifecycle of an enrollment. Completed is derived
// from task statuses and never set by callers.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// TaskStatus is the lifecycle of a single touch.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExecuted  TaskStatus = "executed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task will never run again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskExecuted || s == TaskCancelled
}

// Enrollment is a lead's run through one sequence.
type Enrollment struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organizationId"`
	LeadID         uuid.UUID        `json:"leadId"`
	SequenceID     string           `json:"sequenceId"`
	Status         EnrollmentStatus `json:"status"`
	Tasks          []Task           `json:"tasks"`
	CreatedAt      time.Time        `json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	CancelledAt    *time.Time       `json:"cancelledAt,omitempty"`
}

// Task is one scheduled touch.
type Task struct {
	ID             uuid.UUID      `json:"id"`
	EnrollmentID   uuid.UUID      `json:"enrollmentId"`
	OrganizationID uuid.UUID      `json:"organizationId"`
	LeadID         uuid.UUID      `json:"leadId"`
	Position       int            `json:"position"`
	Type           string         `json:"type"`
	Channel        string         `json:"channel"`
	Template       string         `json:"template,omitempty"`
	ScheduledAt    time.Time      `json:"scheduledAt"`
	Status         TaskStatus     `json:"status"`
	ExecutedAt     *time.Time     `json:"executedAt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// allTasksTerminal reports whether the enrollment has nothing left to run.
func allTasksTerminal(tasks []Task) bool {
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// PendingCount returns how many tasks are still waiting to run.
func (e Enrollment) PendingCount() int {
	n := 0
	for _, t := range e.Tasks {
		if t.Status == TaskPending {
			n++
		}
	}
	return n
}

// Execution is the result of running a task trigger.
type Execution struct {
	Task       Task
	Enrollment Enrollment
	// Executed is false when the trigger was a re-delivery for a task that
	// had already reached a terminal status.
	Executed bool
}
