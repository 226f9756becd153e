package adapters

import (
	"context"
	"errors"
	"testing"

	"engagement_backend/internal/leads/domain"
	"engagement_backend/internal/leads/repository"

	"github.com/google/uuid"
)

type leadStub struct {
	lead domain.Lead
	err  error
}

func (s leadStub) GetByID(context.Context, uuid.UUID, uuid.UUID) (domain.Lead, error) {
	return s.lead, s.err
}

func TestGetContactMapsLead(t *testing.T) {
	email := "marie@example.fr"
	a := NewContactReaderAdapter(leadStub{lead: domain.Lead{
		FirstName: "Marie", LastName: "Durand", Phone: "+33612345678", Email: &email, WhatsAppOptIn: true,
	}})

	c, err := a.GetContact(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "Marie Durand" || c.Phone != "+33612345678" || c.Email == nil || *c.Email != email || !c.WhatsAppOptIn {
		t.Fatalf("unexpected contact %+v", c)
	}
}

func TestGetContactKeepsNotFound(t *testing.T) {
	a := NewContactReaderAdapter(leadStub{err: repository.ErrNotFound})
	_, err := a.GetContact(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
