package scoring

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"engagement_backend/internal/leads/domain"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	// scoreVersion tracks the scoring model for debugging and analysis.
	// Bump this when changing scoring logic significantly.
	scoreVersion = "2026-engagement-v1"

	// Base score - leads start at 50 and factors add/subtract from this.
	baseScore = 50.0

	// Maximum contribution from each factor category so scores stay in 0-100.
	maxFunnelContribution   = 30.0 // Status and callback
	maxEffortContribution   = 20.0 // Attempts and silence
	maxCalendarContribution = 10.0 // Appointment history
)

// AppointmentStats summarises a lead's calendar history.
type AppointmentStats struct {
	Total       int
	Scheduled   int
	Completed   int
	Cancelled   int
	HasUpcoming bool
}

// AppointmentStatsReader is optional; without it the calendar factor is neutral.
type AppointmentStatsReader interface {
	GetLeadAppointmentStats(ctx context.Context, leadID, organizationID uuid.UUID) (AppointmentStats, error)
}

// Result holds scoring output and factor details.
type Result struct {
	Score       int
	FactorsJSON []byte
	Version     string
	UpdatedAt   time.Time
}

// Service computes lead scores.
type Service struct {
	appointments AppointmentStatsReader
	log          *logger.Logger
	now          func() time.Time
}

// New creates a new scoring service.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetAppointmentStatsReader enables the calendar factor.
func (s *Service) SetAppointmentStatsReader(r AppointmentStatsReader) {
	s.appointments = r
}

// Recompute returns the lead's score in [0, 100].
func (s *Service) Recompute(ctx context.Context, lead domain.Lead) (int, error) {
	res, err := s.Recalculate(ctx, lead)
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// Recalculate computes the score together with its factor breakdown.
func (s *Service) Recalculate(ctx context.Context, lead domain.Lead) (*Result, error) {
	var stats AppointmentStats
	if s.appointments != nil {
		found, err := s.appointments.GetLeadAppointmentStats(ctx, lead.ID, lead.OrganizationID)
		if err != nil {
			s.log.DependencyFailure("appointments", "lead appointment stats", err)
		} else {
			stats = found
		}
	}

	now := s.now()
	factors := map[string]float64{}

	funnel := s.addFactor(factors, "status", scoreStatus(lead.Status))
	funnel += s.addFactor(factors, "callback", scoreCallback(lead.NextCallbackAt, now))
	funnel = clampFloat(funnel, -maxFunnelContribution, maxFunnelContribution)

	effort := s.addFactor(factors, "attempts", scoreAttempts(lead.Status, lead.CallAttempts))
	effort += s.addFactor(factors, "lastCall", scoreLastCall(lead.LastCallAt, now))
	effort += s.addFactor(factors, "leadAge", scoreLeadAge(lead.CreatedAt, now))
	effort = clampFloat(effort, -maxEffortContribution, maxEffortContribution)

	calendar := s.addFactor(factors, "appointments", scoreAppointments(stats))
	calendar = clampFloat(calendar, -maxCalendarContribution, maxCalendarContribution)

	score := clampScore(baseScore + funnel + effort + calendar)
	if lead.Status.IsTerminal() {
		// Closed leads sink to the bottom of every call list.
		score = clampScore(math.Min(float64(score), 10))
	}

	factorsJSON, err := json.Marshal(factors)
	if err != nil {
		s.log.Error("lead score factors marshal failed", "error", err)
		factorsJSON = nil
	}

	return &Result{
		Score:       score,
		FactorsJSON: factorsJSON,
		Version:     scoreVersion,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) addFactor(factors map[string]float64, key string, value float64) float64 {
	if math.Abs(value) < 0.01 {
		return 0
	}
	// Round to 1 decimal place for cleaner factor display
	factors[key] = math.Round(value*10) / 10
	return value
}

// scoreStatus evaluates where the lead is in the engagement funnel.
func scoreStatus(status domain.Status) float64 {
	switch status {
	case domain.StatusAppointmentSet:
		return 25
	case domain.StatusCallbackScheduled:
		return 15
	case domain.StatusContacted:
		return 8
	case domain.StatusAttemptedNoAnswer:
		return -2
	case domain.StatusDisqualified, domain.StatusArchived:
		return -30
	default:
		return 0
	}
}

// scoreCallback rewards an agreed callback that is coming up soon.
func scoreCallback(at *time.Time, now time.Time) float64 {
	if at == nil || !at.After(now) {
		return 0
	}
	until := at.Sub(now)
	switch {
	case until <= 24*time.Hour:
		return 5
	case until <= 72*time.Hour:
		return 3
	default:
		return 1
	}
}

// scoreAttempts penalises repeated unanswered attempts. Once the lead has
// been reached, attempts no longer count against it.
func scoreAttempts(status domain.Status, attempts int) float64 {
	if attempts == 0 {
		return 0
	}
	if status != domain.StatusProspect && status != domain.StatusAttemptedNoAnswer {
		return 0
	}
	return clampFloat(-3*float64(attempts), -15, 0)
}

// scoreLastCall evaluates how recently the lead was called.
func scoreLastCall(at *time.Time, now time.Time) float64 {
	if at == nil {
		return 0
	}
	hours := now.Sub(*at).Hours()
	switch {
	case hours <= 24:
		return 3
	case hours <= 24*7:
		return 1
	case hours <= 24*30:
		return 0
	default:
		return -3
	}
}

// scoreLeadAge evaluates how fresh the lead is.
// Fresh leads have higher conversion rates (recency bias).
func scoreLeadAge(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	hours := now.Sub(createdAt).Hours()
	switch {
	case hours <= 24:
		return 8 // Same day - hot lead
	case hours <= 72:
		return 5 // Very fresh
	case hours <= 24*7:
		return 2 // Week old
	case hours <= 24*14:
		return 0 // Two weeks
	case hours <= 24*30:
		return -3 // Month old - cooling down
	default:
		return -6 // Stale lead
	}
}

// scoreAppointments evaluates appointment activity.
// Scheduled/completed appointments indicate serious engagement.
func scoreAppointments(stats AppointmentStats) float64 {
	if stats.Total == 0 {
		return 0
	}

	score := 0.0
	if stats.HasUpcoming {
		score += 4
	}
	score += float64(stats.Completed) * 2
	score += float64(stats.Scheduled) * 1.5

	// Cancelled appointments are negative signal
	if stats.Cancelled > 0 {
		cancellationRate := float64(stats.Cancelled) / float64(stats.Total)
		if cancellationRate >= 0.5 {
			score -= 3
		} else {
			score -= float64(stats.Cancelled)
		}
	}

	return clampFloat(score, -3, 10)
}

func clampScore(value float64) int {
	rounded := int(math.Round(value))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func clampFloat(value float64, min float64, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
