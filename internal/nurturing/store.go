package nurturing

import (
	"context"
	"time"

	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
)

// ErrAlreadyEnrolled matches any AlreadyEnrolled error via errors.Is.
var ErrAlreadyEnrolled = apperr.AlreadyEnrolled("")

const (
	msgAlreadyEnrolled = "this lead is already in a nurturing sequence; cancel it before enrolling again"
	msgNoActive        = "no active nurturing enrollment for this lead"
	msgNoEnrollment    = "no nurturing enrollment for this lead"
	msgTaskNotFound    = "nurturing task not found"
)

// TaskRunner performs the channel send for a claimed pending task and
// returns metadata to store on it. An error leaves the task pending.
type TaskRunner func(ctx context.Context, task Task) (map[string]any, error)

// Store persists enrollments. Every method is a single atomic operation.
type Store interface {
	// CreateEnrollment inserts the enrollment and its tasks, failing with an
	// AlreadyEnrolled error when the lead already has an active enrollment.
	CreateEnrollment(ctx context.Context, enrollment Enrollment) error
	// ActiveEnrollment returns the lead's active enrollment or NotFound.
	ActiveEnrollment(ctx context.Context, organizationID, leadID uuid.UUID) (Enrollment, error)
	// LatestEnrollment returns the most recent enrollment in any status or NotFound.
	LatestEnrollment(ctx context.Context, organizationID, leadID uuid.UUID) (Enrollment, error)
	// CancelActive flips the active enrollment and all its pending tasks to
	// cancelled. A non-empty sequenceID must match the active enrollment.
	CancelActive(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string, at time.Time) (Enrollment, error)
	// ExecuteTask runs run for a pending task and marks it executed, then
	// completes the enrollment when no task is left pending. Non-pending
	// tasks are returned unchanged with Executed=false and run is not called.
	ExecuteTask(ctx context.Context, taskID uuid.UUID, at time.Time, run TaskRunner) (Execution, error)
	// DueTasks lists pending tasks scheduled at or before the cutoff.
	DueTasks(ctx context.Context, cutoff time.Time, limit int) ([]Task, error)
}
