package nurturing

import (
	"context"
	"sort"
	"sync"
	"time"

	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. A single mutex serializes every
// operation, including the task runner, so readers never see partial state.
type MemoryStore struct {
	mu          sync.Mutex
	enrollments map[uuid.UUID]*Enrollment
	taskOwner   map[uuid.UUID]uuid.UUID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrollments: make(map[uuid.UUID]*Enrollment),
		taskOwner:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryStore) CreateEnrollment(_ context.Context, enrollment Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeLocked(enrollment.OrganizationID, enrollment.LeadID); ok {
		return apperr.AlreadyEnrolled(msgAlreadyEnrolled)
	}

	stored := cloneEnrollment(enrollment)
	s.enrollments[stored.ID] = &stored
	for _, t := range stored.Tasks {
		s.taskOwner[t.ID] = stored.ID
	}
	return nil
}

func (s *MemoryStore) ActiveEnrollment(_ context.Context, organizationID, leadID uuid.UUID) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.activeLocked(organizationID, leadID)
	if !ok {
		return Enrollment{}, apperr.NotFound(msgNoActive)
	}
	return cloneEnrollment(*e), nil
}

func (s *MemoryStore) LatestEnrollment(_ context.Context, organizationID, leadID uuid.UUID) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Enrollment
	for _, e := range s.enrollments {
		if e.OrganizationID != organizationID || e.LeadID != leadID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return Enrollment{}, apperr.NotFound(msgNoEnrollment)
	}
	return cloneEnrollment(*latest), nil
}

func (s *MemoryStore) CancelActive(_ context.Context, organizationID, leadID uuid.UUID, sequenceID string, at time.Time) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.activeLocked(organizationID, leadID)
	if !ok || (sequenceID != "" && e.SequenceID != sequenceID) {
		return Enrollment{}, apperr.NotFound(msgNoActive)
	}

	cancelledAt := at
	e.Status = EnrollmentCancelled
	e.CancelledAt = &cancelledAt
	for i := range e.Tasks {
		if e.Tasks[i].Status == TaskPending {
			e.Tasks[i].Status = TaskCancelled
		}
	}
	return cloneEnrollment(*e), nil
}

func (s *MemoryStore) ExecuteTask(ctx context.Context, taskID uuid.UUID, at time.Time, run TaskRunner) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enrollmentID, ok := s.taskOwner[taskID]
	if !ok {
		return Execution{}, apperr.NotFound(msgTaskNotFound)
	}
	e := s.enrollments[enrollmentID]
	idx := -1
	for i := range e.Tasks {
		if e.Tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Execution{}, apperr.NotFound(msgTaskNotFound)
	}

	if e.Tasks[idx].Status != TaskPending {
		return Execution{Task: cloneTask(e.Tasks[idx]), Enrollment: cloneEnrollment(*e)}, nil
	}

	metadata, err := run(ctx, cloneTask(e.Tasks[idx]))
	if err != nil {
		return Execution{}, err
	}

	executedAt := at
	e.Tasks[idx].Status = TaskExecuted
	e.Tasks[idx].ExecutedAt = &executedAt
	e.Tasks[idx].Metadata = mergeMetadata(e.Tasks[idx].Metadata, metadata)

	if e.Status == EnrollmentActive && allTasksTerminal(e.Tasks) {
		completedAt := at
		e.Status = EnrollmentCompleted
		e.CompletedAt = &completedAt
	}

	return Execution{Task: cloneTask(e.Tasks[idx]), Enrollment: cloneEnrollment(*e), Executed: true}, nil
}

func (s *MemoryStore) DueTasks(_ context.Context, cutoff time.Time, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Task
	for _, e := range s.enrollments {
		for _, t := range e.Tasks {
			if t.Status == TaskPending && !t.ScheduledAt.After(cutoff) {
				due = append(due, cloneTask(t))
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) activeLocked(organizationID, leadID uuid.UUID) (*Enrollment, bool) {
	for _, e := range s.enrollments {
		if e.OrganizationID == organizationID && e.LeadID == leadID && e.Status == EnrollmentActive {
			return e, true
		}
	}
	return nil, false
}

func cloneEnrollment(e Enrollment) Enrollment {
	tasks := make([]Task, len(e.Tasks))
	for i, t := range e.Tasks {
		tasks[i] = cloneTask(t)
	}
	e.Tasks = tasks
	return e
}

func cloneTask(t Task) Task {
	if t.Metadata != nil {
		md := make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		t.Metadata = md
	}
	return t
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
