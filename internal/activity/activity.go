// Package activity writes and reads the lead timeline: call outcomes,
// nurturing touches and callback reminders.
package activity

import (
	"context"
	"fmt"
	"time"

	"engagement_backend/platform/logger"
	"engagement_backend/platform/sanitize"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContentMaxLen bounds the stored activity text, ellipsis included.
const ContentMaxLen = 400

// Activity types written by the engagement core.
const (
	TypeCallOutcome      = "call_outcome"
	TypeCallbackReminder = "callback_reminder"
	TypeNurturingTask    = "nurturing_task_executed"
)

// Entry is one timeline row.
type Entry struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organizationId"`
	LeadID         uuid.UUID      `json:"leadId"`
	Type           string         `json:"type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Store persists timeline entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	ListForLead(ctx context.Context, organizationID, leadID uuid.UUID, limit int) ([]Entry, error)
}

// Service validates and records timeline entries.
type Service struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func New(store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, log: log.WithComponent("activity"), now: func() time.Time { return time.Now().UTC() }}
}

// LogActivity appends an entry to the lead's timeline.
func (s *Service) LogActivity(ctx context.Context, organizationID, leadID uuid.UUID, activityType, content string, metadata map[string]any) error {
	if activityType == "" {
		return fmt.Errorf("activity type is required")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	entry := Entry{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		LeadID:         leadID,
		Type:           activityType,
		Content:        sanitize.Truncate(content, ContentMaxLen-len("...")),
		Metadata:       metadata,
		CreatedAt:      s.now(),
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("log %s activity: %w", activityType, err)
	}
	return nil
}

// ListForLead returns the newest entries first.
func (s *Service) ListForLead(ctx context.Context, organizationID, leadID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListForLead(ctx, organizationID, leadID, limit)
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Insert(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO lead_activities (id, organization_id, lead_id, activity_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OrganizationID, e.LeadID, e.Type, e.Content, e.Metadata, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListForLead(ctx context.Context, organizationID, leadID uuid.UUID, limit int) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, lead_id, activity_type, content, metadata, created_at
		FROM lead_activities
		WHERE organization_id = $1 AND lead_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, organizationID, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.LeadID, &e.Type, &e.Content, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}
