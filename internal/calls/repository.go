package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/events"
	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LogEntry is a persisted call record.
type LogEntry struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"userId"`
	LeadID          *uuid.UUID `json:"leadId,omitempty"`
	TargetNumber    string     `json:"targetNumber"`
	ProviderCallID  *string    `json:"providerCallId,omitempty"`
	FinalState      string     `json:"finalState"`
	DurationSeconds int        `json:"durationSeconds"`
	LastError       *string    `json:"lastError,omitempty"`
	HasTranscript   bool       `json:"hasTranscript"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         time.Time  `json:"endedAt"`
}

// Repository stores finished calls in call_logs.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Record inserts a call_logs row. The call id doubles as the row id, so a
// replayed event is ignored.
func (r *Repository) Record(ctx context.Context, ev events.CallEnded) error {
	startedAt := ev.StartedAt
	if startedAt.IsZero() {
		startedAt = ev.OccurredAt()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_logs (id, organization_id, user_id, lead_id, target_number, provider_call_id,
			final_state, duration_seconds, last_error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		ev.CallID, ev.TenantID, ev.UserID, ev.LeadID, ev.TargetNumber, nullable(ev.ProviderCallID),
		ev.FinalState, ev.DurationSeconds, nullable(ev.LastError),
		startedAt, ev.OccurredAt(),
	)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

// ListForLead returns a lead's calls, newest first.
func (r *Repository) ListForLead(ctx context.Context, organizationID, leadID uuid.UUID, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.user_id, c.lead_id, c.target_number, c.provider_call_id, c.final_state,
			c.duration_seconds, c.last_error, t.call_id IS NOT NULL, c.started_at, c.ended_at
		FROM call_logs c
		LEFT JOIN call_transcripts t ON t.call_id = c.id AND t.organization_id = c.organization_id
		WHERE c.organization_id = $1 AND c.lead_id = $2
		ORDER BY c.started_at DESC
		LIMIT $3`, organizationID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.LeadID, &e.TargetNumber, &e.ProviderCallID, &e.FinalState,
			&e.DurationSeconds, &e.LastError, &e.HasTranscript, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordTranscript indexes an archived transcript object.
func (r *Repository) RecordTranscript(ctx context.Context, ev events.TranscriptArchived) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_transcripts (call_id, organization_id, object_key, archived_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_id) DO UPDATE SET object_key = EXCLUDED.object_key, archived_at = EXCLUDED.archived_at`,
		ev.CallID, ev.TenantID, ev.ObjectKey, ev.OccurredAt(),
	)
	if err != nil {
		return fmt.Errorf("insert call transcript: %w", err)
	}
	return nil
}

// TranscriptKey returns the object key of a call's archived transcript.
func (r *Repository) TranscriptKey(ctx context.Context, organizationID, callID uuid.UUID) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx, `
		SELECT object_key FROM call_transcripts
		WHERE call_id = $1 AND organization_id = $2`, callID, organizationID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound(msgNoTranscript)
	}
	if err != nil {
		return "", fmt.Errorf("get call transcript: %w", err)
	}
	return key, nil
}

// Subscribe persists every CallEnded and TranscriptArchived published on bus.
func (r *Repository) Subscribe(bus events.Bus) {
	bus.Subscribe(events.TranscriptArchived{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		ev, ok := event.(events.TranscriptArchived)
		if !ok {
			return nil
		}
		return r.RecordTranscript(ctx, ev)
	}))
	bus.Subscribe(events.CallEnded{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		ev, ok := event.(events.CallEnded)
		if !ok {
			return nil
		}
		return r.Record(ctx, ev)
	}))
}
