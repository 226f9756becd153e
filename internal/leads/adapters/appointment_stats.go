package adapters

import (
	"context"

	"engagement_backend/internal/appointments/repository"
	"engagement_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

// AppointmentStatsSource is the appointments service method scoring reads.
type AppointmentStatsSource interface {
	GetLeadAppointmentStats(ctx context.Context, leadID, organizationID uuid.UUID) (repository.LeadStats, error)
}

// AppointmentStatsAdapter implements scoring.AppointmentStatsReader.
type AppointmentStatsAdapter struct {
	src AppointmentStatsSource
}

func NewAppointmentStatsAdapter(src AppointmentStatsSource) *AppointmentStatsAdapter {
	return &AppointmentStatsAdapter{src: src}
}

func (a *AppointmentStatsAdapter) GetLeadAppointmentStats(ctx context.Context, leadID, organizationID uuid.UUID) (scoring.AppointmentStats, error) {
	s, err := a.src.GetLeadAppointmentStats(ctx, leadID, organizationID)
	if err != nil {
		return scoring.AppointmentStats{}, err
	}
	return scoring.AppointmentStats{
		Total:       s.Total,
		Scheduled:   s.Scheduled,
		Completed:   s.Completed,
		Cancelled:   s.Cancelled,
		HasUpcoming: s.HasUpcoming,
	}, nil
}

var _ scoring.AppointmentStatsReader = (*AppointmentStatsAdapter)(nil)
