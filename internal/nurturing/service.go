package nurturing

import (
	"context"
	"errors"
	"sort"
	"time"

	"engagement_backend/internal/events"
	"engagement_backend/internal/nurturing/sequences"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
)

// Dispatcher performs the channel send of a due task. The returned metadata
// is stored on the task; "skipped" marks a task with no usable address.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) (map[string]any, error)
}

// Enqueuer hands created tasks to the time-based trigger.
type Enqueuer interface {
	EnqueueNurturingTask(ctx context.Context, task Task) error
}

// ActivityLogger records executed touches on the lead timeline.
type ActivityLogger interface {
	LogActivity(ctx context.Context, organizationID, leadID uuid.UUID, activityType, content string, metadata map[string]any) error
}

// Service implements enroll, cancel and task execution on top of a Store.
type Service struct {
	store      Store
	templates  sequences.Source
	dispatcher Dispatcher
	enqueuer   Enqueuer
	activity   ActivityLogger
	bus        events.Bus
	log        *logger.Logger
	now        func() time.Time
}

// New creates a nurturing service. Dispatcher, enqueuer, activity logger and
// bus are optional and wired through setters.
func New(store Store, templates sequences.Source, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     store,
		templates: templates,
		log:       log.WithComponent("nurturing"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetDispatcher sets the channel dispatcher used by ExecuteTask.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetEnqueuer sets the trigger that receives newly created tasks.
func (s *Service) SetEnqueuer(e Enqueuer) { s.enqueuer = e }

// SetActivityLogger sets the lead timeline writer.
func (s *Service) SetActivityLogger(a ActivityLogger) { s.activity = a }

// SetEventBus sets the bus enrollment changes are published on.
func (s *Service) SetEventBus(bus events.Bus) { s.bus = bus }

// Enroll starts sequenceID for a lead. It fails with AlreadyEnrolled when the
// lead has an active enrollment; callers must Cancel first.
func (s *Service) Enroll(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string) (Enrollment, error) {
	if sequenceID == "" {
		return Enrollment{}, apperr.Validation("select a nurturing sequence")
	}

	steps, err := s.templates.GetSequenceTemplates(ctx, sequenceID)
	if err != nil {
		return Enrollment{}, err
	}
	if len(steps) == 0 {
		return Enrollment{}, apperr.InvalidPayload("this nurturing sequence has no steps")
	}

	now := s.now()
	enrollment := Enrollment{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		LeadID:         leadID,
		SequenceID:     sequenceID,
		Status:         EnrollmentActive,
		CreatedAt:      now,
		Tasks:          materialize(organizationID, leadID, steps, now),
	}
	for i := range enrollment.Tasks {
		enrollment.Tasks[i].EnrollmentID = enrollment.ID
	}

	if err := s.store.CreateEnrollment(ctx, enrollment); err != nil {
		return Enrollment{}, err
	}

	s.enqueueAll(ctx, enrollment.Tasks)
	s.publish(ctx, events.NurturingEnrolled{
		BaseEvent:    events.NewBaseEvent(),
		EnrollmentID: enrollment.ID,
		TenantID:     organizationID,
		LeadID:       leadID,
		SequenceID:   sequenceID,
		TaskCount:    len(enrollment.Tasks),
	})
	return enrollment, nil
}

// Cancel cancels the lead's active enrollment together with its pending
// tasks. A non-empty sequenceID restricts the cancel to that sequence.
func (s *Service) Cancel(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string) (Enrollment, error) {
	enrollment, err := s.store.CancelActive(ctx, organizationID, leadID, sequenceID, s.now())
	if err != nil {
		return Enrollment{}, err
	}

	s.publish(ctx, events.NurturingCancelled{
		BaseEvent:      events.NewBaseEvent(),
		EnrollmentID:   enrollment.ID,
		TenantID:       organizationID,
		LeadID:         leadID,
		SequenceID:     enrollment.SequenceID,
		CancelledTasks: countStatus(enrollment.Tasks, TaskCancelled),
	})
	return enrollment, nil
}

// Get returns the lead's active enrollment, or its latest one.
func (s *Service) Get(ctx context.Context, organizationID, leadID uuid.UUID) (Enrollment, error) {
	enrollment, err := s.store.ActiveEnrollment(ctx, organizationID, leadID)
	if err == nil {
		return enrollment, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return Enrollment{}, err
	}
	return s.store.LatestEnrollment(ctx, organizationID, leadID)
}

// ExecuteTask runs a due task. Re-delivery for an executed or cancelled task
// is a no-op: nothing is sent and executedAt is unchanged.
func (s *Service) ExecuteTask(ctx context.Context, taskID uuid.UUID) (Execution, error) {
	exec, err := s.store.ExecuteTask(ctx, taskID, s.now(), s.runTask)
	if err != nil {
		return Execution{}, err
	}
	if !exec.Executed {
		s.log.Debug("nurturing task already terminal", "task_id", taskID, "status", exec.Task.Status)
		return exec, nil
	}

	skipped, _ := exec.Task.Metadata["skipped"].(bool)
	s.logActivity(ctx, exec.Task, skipped)
	s.publish(ctx, events.NurturingTaskExecuted{
		BaseEvent:           events.NewBaseEvent(),
		TaskID:              exec.Task.ID,
		EnrollmentID:        exec.Enrollment.ID,
		TenantID:            exec.Task.OrganizationID,
		LeadID:              exec.Task.LeadID,
		Channel:             exec.Task.Channel,
		Skipped:             skipped,
		EnrollmentCompleted: exec.Enrollment.Status == EnrollmentCompleted,
	})
	return exec, nil
}

// Resync re-enqueues pending tasks that are due, covering enqueue failures
// at enrollment time. Duplicates collapse on the task id.
func (s *Service) Resync(ctx context.Context, limit int) (int, error) {
	if s.enqueuer == nil {
		return 0, nil
	}
	due, err := s.store.DueTasks(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	return s.enqueueAll(ctx, due), nil
}

func (s *Service) runTask(ctx context.Context, task Task) (map[string]any, error) {
	if s.dispatcher == nil {
		return map[string]any{"skipped": true, "reason": "no dispatcher configured"}, nil
	}
	return s.dispatcher.Dispatch(ctx, task)
}

func (s *Service) enqueueAll(ctx context.Context, tasks []Task) int {
	if s.enqueuer == nil {
		return 0
	}
	enqueued := 0
	for _, t := range tasks {
		if err := s.enqueuer.EnqueueNurturingTask(ctx, t); err != nil {
			s.log.DependencyFailure("scheduler", "enqueue nurturing task", err)
			continue
		}
		enqueued++
	}
	return enqueued
}

func (s *Service) logActivity(ctx context.Context, task Task, skipped bool) {
	if s.activity == nil {
		return
	}
	content := "Nurturing " + task.Channel + " sent"
	if skipped {
		content = "Nurturing " + task.Channel + " skipped"
	}
	metadata := map[string]any{
		"taskId":       task.ID.String(),
		"enrollmentId": task.EnrollmentID.String(),
		"taskType":     task.Type,
		"channel":      task.Channel,
		"skipped":      skipped,
	}
	if err := s.activity.LogActivity(ctx, task.OrganizationID, task.LeadID, "nurturing_task_executed", content, metadata); err != nil {
		s.log.DependencyFailure("activity", "log nurturing task", err)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, event)
	}
}

// materialize turns templates into pending tasks anchored at now, ordered by
// scheduledAt ascending.
func materialize(organizationID, leadID uuid.UUID, steps []sequences.Step, now time.Time) []Task {
	ordered := make([]sequences.Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	tasks := make([]Task, len(ordered))
	for i, st := range ordered {
		tasks[i] = Task{
			ID:             uuid.New(),
			OrganizationID: organizationID,
			LeadID:         leadID,
			Position:       i + 1,
			Type:           st.Type,
			Channel:        st.Channel,
			Template:       st.Template,
			ScheduledAt:    now.Add(st.Offset),
			Status:         TaskPending,
		}
	}
	return tasks
}

func countStatus(tasks []Task, status TaskStatus) int {
	n := 0
	for _, t := range tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// IsAlreadyEnrolled reports whether err is the at-most-one-active violation.
func IsAlreadyEnrolled(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled)
}
