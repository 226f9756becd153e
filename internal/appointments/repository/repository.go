package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSlotTaken is returned when the staff member already has a scheduled
// appointment overlapping the requested window.
var ErrSlotTaken = errors.New("appointment slot taken")

// Appointment statuses.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Appointment represents the appointment database model
type Appointment struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	UserID         uuid.UUID  `db:"user_id"`
	LeadID         *uuid.UUID `db:"lead_id"`
	Title          string     `db:"title"`
	Description    *string    `db:"description"`
	StartTime      time.Time  `db:"start_time"`
	EndTime        time.Time  `db:"end_time"`
	Status         string     `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// LeadStats summarises a lead's appointments.
type LeadStats struct {
	Total       int
	Scheduled   int
	Completed   int
	Cancelled   int
	HasUpcoming bool
}

// Repository provides database operations for appointments
type Repository struct {
	pool *pgxpool.Pool
}

const (
	appointmentNotFoundMsg = "appointment not found"
	appointmentColumns     = `id, organization_id, user_id, lead_id, title, description, start_time, end_time,
		status, created_at, updated_at`
)

// New creates a new appointments repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAppointment(row pgx.Row) (Appointment, error) {
	var appt Appointment
	err := row.Scan(
		&appt.ID, &appt.OrganizationID, &appt.UserID, &appt.LeadID, &appt.Title, &appt.Description,
		&appt.StartTime, &appt.EndTime, &appt.Status, &appt.CreatedAt, &appt.UpdatedAt,
	)
	return appt, err
}

// CreateIfFree inserts the appointment unless the user already has a
// scheduled appointment overlapping it. Concurrent bookings for the same user
// are serialized on a transaction-scoped advisory lock.
func (r *Repository) CreateIfFree(ctx context.Context, appt Appointment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, appt.UserID); err != nil {
			return fmt.Errorf("failed to lock calendar: %w", err)
		}

		var taken bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE organization_id = $1 AND user_id = $2
				AND start_time < $4 AND end_time > $3
				AND status = 'scheduled'
			)`, appt.OrganizationID, appt.UserID, appt.StartTime, appt.EndTime).Scan(&taken)
		if err != nil {
			return fmt.Errorf("failed to check calendar: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO appointments (
				id, organization_id, user_id, lead_id, title, description, start_time, end_time,
				status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			appt.ID, appt.OrganizationID, appt.UserID, appt.LeadID, appt.Title, appt.Description,
			appt.StartTime, appt.EndTime, appt.Status, appt.CreatedAt, appt.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create appointment: %w", err)
		}
		return nil
	})
}

// GetByID retrieves an appointment by its ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments WHERE id = $1 AND organization_id = $2`, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, apperr.NotFound(appointmentNotFoundMsg)
		}
		return Appointment{}, fmt.Errorf("failed to get appointment: %w", err)
	}
	return appt, nil
}

// Cancel marks a scheduled appointment cancelled.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND status = 'scheduled'`, id, organizationID)
	if err != nil {
		return fmt.Errorf("failed to cancel appointment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(appointmentNotFoundMsg)
	}
	return nil
}

// ListForDateRange retrieves the user's scheduled appointments overlapping the window.
// An appointment overlaps if it starts before the window ends AND ends after the window starts.
func (r *Repository) ListForDateRange(ctx context.Context, organizationID uuid.UUID, userID uuid.UUID, startDate, endDate time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1 AND user_id = $2
		AND start_time < $4 AND end_time > $3
		AND status = 'scheduled'
		ORDER BY start_time ASC`, organizationID, userID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments for date range: %w", err)
	}
	defer rows.Close()

	items := make([]Appointment, 0)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		items = append(items, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return items, nil
}

// GetLeadAppointmentStats counts the lead's appointments by status.
func (r *Repository) GetLeadAppointmentStats(ctx context.Context, leadID uuid.UUID, organizationID uuid.UUID) (LeadStats, error) {
	var stats LeadStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'scheduled'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(BOOL_OR(status = 'scheduled' AND start_time > now()), false)
		FROM appointments
		WHERE lead_id = $1 AND organization_id = $2`, leadID, organizationID).Scan(
		&stats.Total, &stats.Scheduled, &stats.Completed, &stats.Cancelled, &stats.HasUpcoming,
	)
	if err != nil {
		return LeadStats{}, fmt.Errorf("failed to get lead appointment stats: %w", err)
	}
	return stats, nil
}
