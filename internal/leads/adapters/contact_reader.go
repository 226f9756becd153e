package adapters

import (
	"context"
	"fmt"

	"engagement_backend/internal/leads/domain"
	"engagement_backend/internal/nurturing/channels"

	"github.com/google/uuid"
)

// LeadReader is the part of the leads repository the adapter needs.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (domain.Lead, error)
}

// ContactReaderAdapter implements channels.ContactReader using the leads repository.
type ContactReaderAdapter struct {
	repo LeadReader
}

func NewContactReaderAdapter(repo LeadReader) *ContactReaderAdapter {
	return &ContactReaderAdapter{repo: repo}
}

func (a *ContactReaderAdapter) GetContact(ctx context.Context, organizationID, leadID uuid.UUID) (channels.Contact, error) {
	if a == nil || a.repo == nil {
		return channels.Contact{}, fmt.Errorf("contact reader not configured")
	}
	lead, err := a.repo.GetByID(ctx, leadID, organizationID)
	if err != nil {
		return channels.Contact{}, fmt.Errorf("get lead contact: %w", err)
	}
	return channels.Contact{
		Name:          lead.DisplayName(),
		Email:         lead.Email,
		Phone:         lead.Phone,
		WhatsAppOptIn: lead.WhatsAppOptIn,
	}, nil
}

var _ channels.ContactReader = (*ContactReaderAdapter)(nil)
