package nurturing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	activeLeadConstraint = "uq_nurturing_enrollments_active_lead"
	pgUniqueViolation    = "23505"

	enrollmentColumns = `id, organization_id, lead_id, sequence_id, status, created_at, completed_at, cancelled_at`
	taskColumns       = `t.id, t.enrollment_id, t.organization_id, e.lead_id, t.position, t.task_type, t.channel,
		t.template, t.scheduled_at, t.status, t.executed_at, t.metadata`
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed Store. Enrollment rows are always locked
// before their task rows so cancel and execute cannot deadlock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateEnrollment(ctx context.Context, enrollment Enrollment) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var existing uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM nurturing_enrollments
			WHERE organization_id = $1 AND lead_id = $2 AND status = 'active'
			FOR UPDATE`, enrollment.OrganizationID, enrollment.LeadID).Scan(&existing)
		switch {
		case err == nil:
			return apperr.AlreadyEnrolled(msgAlreadyEnrolled)
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("failed to check active enrollment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO nurturing_enrollments (id, organization_id, lead_id, sequence_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			enrollment.ID, enrollment.OrganizationID, enrollment.LeadID, enrollment.SequenceID,
			enrollment.Status, enrollment.CreatedAt,
		)
		if err != nil {
			if isActiveLeadViolation(err) {
				return apperr.AlreadyEnrolled(msgAlreadyEnrolled)
			}
			return fmt.Errorf("failed to create enrollment: %w", err)
		}

		batch := &pgx.Batch{}
		for _, t := range enrollment.Tasks {
			batch.Queue(`
				INSERT INTO nurturing_tasks (
					id, enrollment_id, organization_id, position, task_type, channel, template,
					scheduled_at, status, metadata
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				t.ID, enrollment.ID, enrollment.OrganizationID, t.Position, t.Type, t.Channel, t.Template,
				t.ScheduledAt, t.Status, metadataOrEmpty(t.Metadata),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to create nurturing tasks: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ActiveEnrollment(ctx context.Context, organizationID, leadID uuid.UUID) (Enrollment, error) {
	return s.findEnrollment(ctx, s.pool, `
		SELECT `+enrollmentColumns+` FROM nurturing_enrollments
		WHERE organization_id = $1 AND lead_id = $2 AND status = 'active'`,
		msgNoActive, organizationID, leadID)
}

func (s *PostgresStore) LatestEnrollment(ctx context.Context, organizationID, leadID uuid.UUID) (Enrollment, error) {
	return s.findEnrollment(ctx, s.pool, `
		SELECT `+enrollmentColumns+` FROM nurturing_enrollments
		WHERE organization_id = $1 AND lead_id = $2
		ORDER BY created_at DESC LIMIT 1`,
		msgNoEnrollment, organizationID, leadID)
}

func (s *PostgresStore) CancelActive(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string, at time.Time) (Enrollment, error) {
	var result Enrollment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		enrollment, err := s.findEnrollment(ctx, tx, `
			SELECT `+enrollmentColumns+` FROM nurturing_enrollments
			WHERE organization_id = $1 AND lead_id = $2 AND status = 'active'
			FOR UPDATE`,
			msgNoActive, organizationID, leadID)
		if err != nil {
			return err
		}
		if sequenceID != "" && enrollment.SequenceID != sequenceID {
			return apperr.NotFound(msgNoActive)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE nurturing_tasks SET status = 'cancelled'
			WHERE enrollment_id = $1 AND status = 'pending'`, enrollment.ID); err != nil {
			return fmt.Errorf("failed to cancel nurturing tasks: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE nurturing_enrollments SET status = 'cancelled', cancelled_at = $2, updated_at = $2
			WHERE id = $1`, enrollment.ID, at); err != nil {
			return fmt.Errorf("failed to cancel enrollment: %w", err)
		}

		result, err = s.loadEnrollment(ctx, tx, enrollment.ID)
		return err
	})
	return result, err
}

func (s *PostgresStore) ExecuteTask(ctx context.Context, taskID uuid.UUID, at time.Time, run TaskRunner) (Execution, error) {
	var result Execution
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var enrollmentID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT enrollment_id FROM nurturing_tasks WHERE id = $1`, taskID).Scan(&enrollmentID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound(msgTaskNotFound)
			}
			return fmt.Errorf("failed to find nurturing task: %w", err)
		}

		var enrollmentStatus EnrollmentStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM nurturing_enrollments WHERE id = $1 FOR UPDATE`, enrollmentID).Scan(&enrollmentStatus); err != nil {
			return fmt.Errorf("failed to lock enrollment: %w", err)
		}

		task, err := scanTask(tx.QueryRow(ctx, `
			SELECT `+taskColumns+`
			FROM nurturing_tasks t JOIN nurturing_enrollments e ON e.id = t.enrollment_id
			WHERE t.id = $1
			FOR UPDATE OF t`, taskID))
		if err != nil {
			return fmt.Errorf("failed to lock nurturing task: %w", err)
		}

		if task.Status != TaskPending {
			enrollment, err := s.loadEnrollment(ctx, tx, enrollmentID)
			if err != nil {
				return err
			}
			result = Execution{Task: task, Enrollment: enrollment}
			return nil
		}

		metadata, err := run(ctx, task)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE nurturing_tasks SET status = 'executed', executed_at = $2, metadata = metadata || $3::jsonb
			WHERE id = $1`, taskID, at, metadataOrEmpty(metadata)); err != nil {
			return fmt.Errorf("failed to mark task executed: %w", err)
		}

		if enrollmentStatus == EnrollmentActive {
			if _, err := tx.Exec(ctx, `
				UPDATE nurturing_enrollments SET status = 'completed', completed_at = $2, updated_at = $2
				WHERE id = $1 AND NOT EXISTS (
					SELECT 1 FROM nurturing_tasks WHERE enrollment_id = $1 AND status = 'pending'
				)`, enrollmentID, at); err != nil {
				return fmt.Errorf("failed to complete enrollment: %w", err)
			}
		}

		enrollment, err := s.loadEnrollment(ctx, tx, enrollmentID)
		if err != nil {
			return err
		}
		for _, t := range enrollment.Tasks {
			if t.ID == taskID {
				task = t
			}
		}
		result = Execution{Task: task, Enrollment: enrollment, Executed: true}
		return nil
	})
	return result, err
}

func (s *PostgresStore) DueTasks(ctx context.Context, cutoff time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM nurturing_tasks t JOIN nurturing_enrollments e ON e.id = t.enrollment_id
		WHERE t.status = 'pending' AND t.scheduled_at <= $1
		ORDER BY t.scheduled_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due nurturing tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresStore) findEnrollment(ctx context.Context, q querier, query, notFoundMsg string, args ...any) (Enrollment, error) {
	var e Enrollment
	err := q.QueryRow(ctx, query, args...).Scan(
		&e.ID, &e.OrganizationID, &e.LeadID, &e.SequenceID, &e.Status, &e.CreatedAt, &e.CompletedAt, &e.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, apperr.NotFound(notFoundMsg)
		}
		return Enrollment{}, fmt.Errorf("failed to get enrollment: %w", err)
	}

	tasks, err := s.tasksFor(ctx, q, e.ID)
	if err != nil {
		return Enrollment{}, err
	}
	e.Tasks = tasks
	return e, nil
}

func (s *PostgresStore) loadEnrollment(ctx context.Context, q querier, id uuid.UUID) (Enrollment, error) {
	return s.findEnrollment(ctx, q, `SELECT `+enrollmentColumns+` FROM nurturing_enrollments WHERE id = $1`, msgNoEnrollment, id)
}

func (s *PostgresStore) tasksFor(ctx context.Context, q querier, enrollmentID uuid.UUID) ([]Task, error) {
	rows, err := q.Query(ctx, `
		SELECT `+taskColumns+`
		FROM nurturing_tasks t JOIN nurturing_enrollments e ON e.id = t.enrollment_id
		WHERE t.enrollment_id = $1
		ORDER BY t.scheduled_at ASC, t.position ASC`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nurturing tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	tasks := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan nurturing task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.EnrollmentID, &t.OrganizationID, &t.LeadID, &t.Position, &t.Type, &t.Channel,
		&t.Template, &t.ScheduledAt, &t.Status, &t.ExecutedAt, &t.Metadata,
	)
	return t, err
}

func isActiveLeadViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeLeadConstraint
}

func metadataOrEmpty(md map[string]any) map[string]any {
	if md == nil {
		return map[string]any{}
	}
	return md
}
