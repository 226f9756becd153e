// Package repository persists leads and the engagement fields call outcomes
// rewrite.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/leads/domain"
	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound matches any lead lookup miss via errors.Is.
var ErrNotFound = apperr.NotFound("lead not found")

const leadColumns = `id, organization_id, first_name, last_name, phone, email, whatsapp_opt_in, status,
	call_attempts, score, next_callback_at, refusal_reason, last_call_at, created_at, updated_at`

// PatchFunc computes the patch to write for a locked lead. Returning an
// error rolls the transaction back.
type PatchFunc func(ctx context.Context, lead domain.Lead) (domain.Patch, error)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var (
		lead   domain.Lead
		email  string
		status string
		reason *string
	)
	err := row.Scan(
		&lead.ID, &lead.OrganizationID, &lead.FirstName, &lead.LastName, &lead.Phone, &email,
		&lead.WhatsAppOptIn, &status, &lead.CallAttempts, &lead.Score, &lead.NextCallbackAt,
		&reason, &lead.LastCallAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}

	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "lead has an unreadable status", err)
	}
	lead.Status = parsed
	if email != "" {
		lead.Email = &email
	}
	if reason != nil {
		r := domain.RefusalReason(*reason)
		lead.RefusalReason = &r
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads WHERE id = $1 AND organization_id = $2
	`, id, organizationID)
	return scanLead(row)
}

// ApplyOutcome locks the lead row, asks fn for the patch and writes it in the
// same transaction. It returns the lead as stored after the patch.
func (r *Repository) ApplyOutcome(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, fn PatchFunc) (domain.Lead, domain.Patch, error) {
	var (
		updated domain.Lead
		patch   domain.Patch
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		lead, err := scanLead(tx.QueryRow(ctx, `
			SELECT `+leadColumns+`
			FROM leads WHERE id = $1 AND organization_id = $2
			FOR UPDATE`, id, organizationID))
		if err != nil {
			return err
		}

		patch, err = fn(ctx, lead)
		if err != nil {
			return err
		}

		var reason *string
		if patch.RefusalReason != nil {
			v := string(*patch.RefusalReason)
			reason = &v
		}
		updated, err = scanLead(tx.QueryRow(ctx, `
			UPDATE leads
			SET status = $3, call_attempts = $4, next_callback_at = $5, refusal_reason = $6,
				last_call_at = $7, updated_at = now()
			WHERE id = $1 AND organization_id = $2
			RETURNING `+leadColumns,
			id, organizationID, string(patch.Status), patch.CallAttempts, patch.NextCallbackAt,
			reason, patch.LastCallAt,
		))
		if err != nil {
			return fmt.Errorf("failed to persist outcome: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Lead{}, domain.Patch{}, err
	}
	return updated, patch, nil
}

// UpdateScore stores a recomputed score.
func (r *Repository) UpdateScore(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, score int, factors []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET score = $3, score_factors = COALESCE($4::jsonb, score_factors), score_updated_at = $5
		WHERE id = $1 AND organization_id = $2
	`, id, organizationID, score, factors, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
