package service

import (
	"context"
	"errors"
	"time"

	"engagement_backend/internal/appointments/repository"
	"engagement_backend/internal/appointments/transport"
	"engagement_backend/internal/leads/domain"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	// DefaultDuration applies when a booking carries no end time.
	DefaultDuration = 30 * time.Minute
	defaultTitle    = "Rendez-vous conseiller"
	maxListWindow   = 62 * 24 * time.Hour

	msgSlotTaken          = "this time slot is already booked for the staff member; pick another slot"
	msgCalendarDown       = "the calendar is unavailable; try booking again"
	msgCollaboratorNeeded = "select a staff member before confirming"
	msgStartInFuture      = "select an appointment time in the future"
	msgEndAfterStart      = "the appointment must end after it starts"
)

// Store is the persistence the calendar needs.
type Store interface {
	CreateIfFree(ctx context.Context, appt repository.Appointment) error
	GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (repository.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error
	ListForDateRange(ctx context.Context, organizationID uuid.UUID, userID uuid.UUID, startDate, endDate time.Time) ([]repository.Appointment, error)
	GetLeadAppointmentStats(ctx context.Context, leadID uuid.UUID, organizationID uuid.UUID) (repository.LeadStats, error)
}

// BookParams describes a slot to reserve for a lead.
type BookParams struct {
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	CollaboratorID uuid.UUID
	Start          time.Time
	End            time.Time
	Title          string
	Description    string
}

// Service provides business logic for appointments
type Service struct {
	repo Store
	log  *logger.Logger
	now  func() time.Time
}

// New creates a new appointments service
func New(repo Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, log: log.WithComponent("appointments"), now: time.Now}
}

// Book reserves the slot and returns the confirmation a call outcome needs.
// Overlapping bookings for the same staff member are rejected.
func (s *Service) Book(ctx context.Context, p BookParams) (domain.BookingConfirmation, error) {
	if p.CollaboratorID == uuid.Nil {
		return domain.BookingConfirmation{}, apperr.InvalidPayload(msgCollaboratorNeeded)
	}
	if p.Start.IsZero() || !p.Start.After(s.now()) {
		return domain.BookingConfirmation{}, apperr.InvalidPayload(msgStartInFuture)
	}
	end := p.End
	if end.IsZero() {
		end = p.Start.Add(DefaultDuration)
	}
	if !end.After(p.Start) {
		return domain.BookingConfirmation{}, apperr.InvalidPayload(msgEndAfterStart)
	}

	title := sanitize.Text(p.Title)
	if title == "" {
		title = defaultTitle
	}
	var description *string
	if d := sanitize.Text(p.Description); d != "" {
		description = &d
	}

	now := s.now().UTC()
	leadID := p.LeadID
	appt := repository.Appointment{
		ID:             uuid.New(),
		OrganizationID: p.OrganizationID,
		UserID:         p.CollaboratorID,
		LeadID:         &leadID,
		Title:          title,
		Description:    description,
		StartTime:      p.Start.UTC(),
		EndTime:        end.UTC(),
		Status:         repository.StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.CreateIfFree(ctx, appt); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			return domain.BookingConfirmation{}, apperr.InvalidPayload(msgSlotTaken).
				WithDetails(map[string]any{"start": p.Start, "end": end})
		}
		return domain.BookingConfirmation{}, apperr.DependencyFailure(msgCalendarDown, err)
	}

	return domain.BookingConfirmation{
		AppointmentID:  appt.ID,
		CollaboratorID: p.CollaboratorID,
		Start:          p.Start,
		End:            end,
	}, nil
}

// Cancel releases a booked slot.
func (s *Service) Cancel(ctx context.Context, organizationID, appointmentID uuid.UUID) error {
	return s.repo.Cancel(ctx, appointmentID, organizationID)
}

// GetByID returns one appointment.
func (s *Service) GetByID(ctx context.Context, organizationID, appointmentID uuid.UUID) (*transport.AppointmentResponse, error) {
	appt, err := s.repo.GetByID(ctx, appointmentID, organizationID)
	if err != nil {
		return nil, err
	}
	resp := toResponse(appt)
	return &resp, nil
}

// List returns the user's scheduled appointments in [from, to).
func (s *Service) List(ctx context.Context, organizationID, userID uuid.UUID, req transport.ListAppointmentsRequest) ([]transport.AppointmentResponse, error) {
	from, to := req.From, req.To
	if from.IsZero() {
		from = s.now()
	}
	if to.IsZero() {
		to = from.Add(7 * 24 * time.Hour)
	}
	if !to.After(from) {
		return nil, apperr.Validation("to must be after from")
	}
	if to.Sub(from) > maxListWindow {
		return nil, apperr.Validation("the requested window is too large")
	}

	items, err := s.repo.ListForDateRange(ctx, organizationID, userID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]transport.AppointmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toResponse(a))
	}
	return out, nil
}

// GetLeadAppointmentStats exposes the lead's calendar history to scoring.
func (s *Service) GetLeadAppointmentStats(ctx context.Context, leadID, organizationID uuid.UUID) (repository.LeadStats, error) {
	return s.repo.GetLeadAppointmentStats(ctx, leadID, organizationID)
}

func toResponse(a repository.Appointment) transport.AppointmentResponse {
	return transport.AppointmentResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		LeadID:      a.LeadID,
		Title:       a.Title,
		Description: a.Description,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Status:      transport.AppointmentStatus(a.Status),
		CreatedAt:   a.CreatedAt,
	}
}
