// Package engagement records call outcomes: it books the calendar when the
// outcome needs it, applies the pure transition under a row lock, then runs
// the best-effort side effects (score, timeline, nurturing, events).
package engagement

import (
	"context"
	"fmt"
	"time"

	apptsvc "engagement_backend/internal/appointments/service"
	"engagement_backend/internal/events"
	"engagement_backend/internal/leads/domain"
	"engagement_backend/internal/leads/repository"
	"engagement_backend/internal/leads/scoring"
	"engagement_backend/internal/nurturing"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	activityCallOutcome = "call_outcome"
	compensateTimeout   = 5 * time.Second
)

// LeadStore reads and patches leads.
type LeadStore interface {
	GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (domain.Lead, error)
	ApplyOutcome(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, fn repository.PatchFunc) (domain.Lead, domain.Patch, error)
	UpdateScore(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, score int, factors []byte) error
}

// Calendar books and releases appointment slots.
type Calendar interface {
	Book(ctx context.Context, p apptsvc.BookParams) (domain.BookingConfirmation, error)
	Cancel(ctx context.Context, organizationID, appointmentID uuid.UUID) error
}

// Scorer recomputes a lead's score.
type Scorer interface {
	Recalculate(ctx context.Context, lead domain.Lead) (*scoring.Result, error)
}

// Nurturing is the enrollment side of the scheduler.
type Nurturing interface {
	Enroll(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string) (nurturing.Enrollment, error)
	Cancel(ctx context.Context, organizationID, leadID uuid.UUID, sequenceID string) (nurturing.Enrollment, error)
}

// ActivityLogger writes the lead timeline.
type ActivityLogger interface {
	LogActivity(ctx context.Context, organizationID, leadID uuid.UUID, activityType, content string, metadata map[string]any) error
}

// RecordOutcomeCommand is one operator call outcome.
type RecordOutcomeCommand struct {
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	ActorID        uuid.UUID
	CallID         *uuid.UUID
	Outcome        domain.Outcome
	Note           string
}

// Result is what the operator sees after recording an outcome.
type Result struct {
	Lead        domain.Lead                 `json:"-"`
	Patch       domain.Patch                `json:"-"`
	Appointment *domain.BookingConfirmation `json:"-"`
	// Enrollment is set when the outcome started a nurturing sequence.
	Enrollment *nurturing.Enrollment `json:"-"`
	// Cancelled is set when the outcome stopped an active sequence.
	Cancelled *nurturing.Enrollment `json:"-"`
}

// Service sequences RecordOutcome.
type Service struct {
	leads     LeadStore
	calendar  Calendar
	scorer    Scorer
	nurturing Nurturing
	activity  ActivityLogger
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time

	noAnswerSequence string
}

// Option configures a Service.
type Option func(*Service)

// WithScorer enables score recomputation after every outcome.
func WithScorer(s Scorer) Option { return func(svc *Service) { svc.scorer = s } }

// WithNurturing enables the nurturing side effects. An empty sequence id
// disables the no-answer enrollment.
func WithNurturing(n Nurturing, noAnswerSequence string) Option {
	return func(svc *Service) {
		svc.nurturing = n
		svc.noAnswerSequence = noAnswerSequence
	}
}

// WithActivityLogger enables the outcome timeline entry.
func WithActivityLogger(a ActivityLogger) Option { return func(svc *Service) { svc.activity = a } }

// WithEventBus publishes LeadOutcomeRecorded after every outcome.
func WithEventBus(bus events.Bus) Option { return func(svc *Service) { svc.bus = bus } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// New creates the service. The calendar is required: without it no
// AppointmentSet outcome can ever be recorded.
func New(leads LeadStore, calendar Calendar, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		leads:    leads,
		calendar: calendar,
		log:      log.WithComponent("engagement"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLead returns the lead snapshot outcomes are applied to.
func (s *Service) GetLead(ctx context.Context, organizationID, leadID uuid.UUID) (domain.Lead, error) {
	return s.leads.GetByID(ctx, leadID, organizationID)
}

// RecordOutcome applies an operator's call outcome to a lead. Rejections
// leave the lead untouched. Once the patch is stored, collaborator failures
// are logged and never undo it.
func (s *Service) RecordOutcome(ctx context.Context, cmd RecordOutcomeCommand) (Result, error) {
	if cmd.Outcome == nil {
		return Result{}, apperr.InvalidPayload("select a call outcome")
	}
	log := s.log.WithContext(ctx)
	now := s.now()

	var (
		booked   *domain.BookingConfirmation
		previous domain.Status
	)
	updated, patch, err := s.leads.ApplyOutcome(ctx, cmd.LeadID, cmd.OrganizationID, func(ctx context.Context, lead domain.Lead) (domain.Patch, error) {
		previous = lead.Status
		outcome := cmd.Outcome
		if appt, ok := outcome.(domain.AppointmentSet); ok {
			conf, err := s.book(ctx, lead, appt, now)
			if err != nil {
				return domain.Patch{}, err
			}
			booked = &conf
			appt.Booking = &conf
			appt.End = conf.End
			outcome = appt
		}
		return domain.Transition(lead, outcome, now)
	})
	if err != nil {
		if booked != nil {
			s.releaseBooking(cmd.OrganizationID, *booked, err)
		}
		return Result{}, err
	}

	log.Info("call outcome recorded",
		"lead_id", cmd.LeadID.String(),
		"outcome", string(patch.Outcome),
		"from", string(previous),
		"to", string(patch.Status),
		"call_attempts", patch.CallAttempts,
	)

	res := Result{Lead: updated, Patch: patch, Appointment: booked}
	if patch.RecomputeScore {
		s.recomputeScore(ctx, &res.Lead)
	}
	s.logOutcome(ctx, cmd, previous, patch, booked)
	s.applyNurturing(ctx, cmd, patch, &res)
	s.publish(ctx, cmd, previous, patch, booked)
	return res, nil
}

// book reserves the slot for an AppointmentSet outcome. Any calendar failure
// blocks the outcome.
func (s *Service) book(ctx context.Context, lead domain.Lead, appt domain.AppointmentSet, now time.Time) (domain.BookingConfirmation, error) {
	if err := domain.CheckBookable(lead, appt, now); err != nil {
		return domain.BookingConfirmation{}, err
	}
	if s.calendar == nil {
		return domain.BookingConfirmation{}, apperr.DependencyFailure("the calendar is not configured; appointments cannot be booked", nil)
	}
	conf, err := s.calendar.Book(ctx, apptsvc.BookParams{
		OrganizationID: lead.OrganizationID,
		LeadID:         lead.ID,
		CollaboratorID: appt.CollaboratorID,
		Start:          appt.Start,
		End:            appt.End,
		Title:          "Rendez-vous " + lead.DisplayName(),
	})
	if err != nil {
		if apperr.GetKind(err) == apperr.KindUnknown {
			return domain.BookingConfirmation{}, apperr.DependencyFailure("the calendar is unavailable; try booking again", err)
		}
		return domain.BookingConfirmation{}, err
	}
	return conf, nil
}

// releaseBooking frees a slot booked for an outcome that was then not stored.
func (s *Service) releaseBooking(organizationID uuid.UUID, conf domain.BookingConfirmation, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()
	if err := s.calendar.Cancel(ctx, organizationID, conf.AppointmentID); err != nil {
		s.log.Error("orphaned appointment after failed outcome",
			"appointment_id", conf.AppointmentID.String(),
			"cause", cause.Error(),
			"error", err,
		)
	}
}

func (s *Service) recomputeScore(ctx context.Context, lead *domain.Lead) {
	if s.scorer == nil {
		return
	}
	res, err := s.scorer.Recalculate(ctx, *lead)
	if err != nil {
		s.log.DependencyFailure("scoring", "recompute score", err)
		return
	}
	if err := s.leads.UpdateScore(ctx, lead.ID, lead.OrganizationID, res.Score, res.FactorsJSON); err != nil {
		s.log.DependencyFailure("scoring", "persist score", err)
		return
	}
	lead.Score = res.Score
}

func (s *Service) logOutcome(ctx context.Context, cmd RecordOutcomeCommand, previous domain.Status, patch domain.Patch, booked *domain.BookingConfirmation) {
	if s.activity == nil {
		return
	}
	metadata := map[string]any{
		"outcome":         string(patch.Outcome),
		"previousStatus":  string(previous),
		"status":          string(patch.Status),
		"callAttempts":    patch.CallAttempts,
		"durationSeconds": int(cmd.Outcome.CallDuration().Seconds()),
		"actorId":         cmd.ActorID.String(),
	}
	if cmd.CallID != nil {
		metadata["callId"] = cmd.CallID.String()
	}
	if patch.NextCallbackAt != nil {
		metadata["nextCallbackAt"] = patch.NextCallbackAt.Format(time.RFC3339)
	}
	if patch.RefusalReason != nil {
		metadata["refusalReason"] = string(*patch.RefusalReason)
	}
	if booked != nil {
		metadata["appointmentId"] = booked.AppointmentID.String()
		metadata["collaboratorId"] = booked.CollaboratorID.String()
	}
	if err := s.activity.LogActivity(ctx, cmd.OrganizationID, cmd.LeadID, activityCallOutcome, outcomeContent(patch, cmd.Note), metadata); err != nil {
		s.log.DependencyFailure("activity", "log call outcome", err)
	}
}

func (s *Service) applyNurturing(ctx context.Context, cmd RecordOutcomeCommand, patch domain.Patch, res *Result) {
	if s.nurturing == nil {
		return
	}
	switch patch.Nurturing {
	case domain.NurturingCancelActive:
		enrollment, err := s.nurturing.Cancel(ctx, cmd.OrganizationID, cmd.LeadID, "")
		switch {
		case err == nil:
			res.Cancelled = &enrollment
		case apperr.Is(err, apperr.KindNotFound):
		default:
			s.log.DependencyFailure("nurturing", "cancel enrollment", err)
		}

	case domain.NurturingEnrollNoAnswer:
		if s.noAnswerSequence == "" {
			return
		}
		enrollment, err := s.nurturing.Enroll(ctx, cmd.OrganizationID, cmd.LeadID, s.noAnswerSequence)
		switch {
		case err == nil:
			res.Enrollment = &enrollment
		case nurturing.IsAlreadyEnrolled(err):
			// The running sequence is kept; it is never replaced.
			s.log.Debug("lead already in nurturing", "lead_id", cmd.LeadID.String())
		default:
			s.log.DependencyFailure("nurturing", "enroll no-answer sequence", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, cmd RecordOutcomeCommand, previous domain.Status, patch domain.Patch, booked *domain.BookingConfirmation) {
	if s.bus == nil {
		return
	}
	evt := events.LeadOutcomeRecorded{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         cmd.LeadID,
		TenantID:       cmd.OrganizationID,
		ActorID:        cmd.ActorID,
		Outcome:        string(patch.Outcome),
		PreviousStatus: string(previous),
		Status:         string(patch.Status),
		CallAttempts:   patch.CallAttempts,
		NextCallbackAt: patch.NextCallbackAt,
	}
	if booked != nil {
		id := booked.AppointmentID
		evt.AppointmentID = &id
	}
	s.bus.Publish(ctx, evt)
}

func outcomeContent(patch domain.Patch, note string) string {
	var content string
	switch patch.Outcome {
	case domain.OutcomeNoAnswer:
		content = fmt.Sprintf("Appel sans réponse (tentative %d)", patch.CallAttempts)
	case domain.OutcomeCallbackScheduled:
		content = "Rappel planifié le " + patch.NextCallbackAt.Format("02/01/2006 15:04")
	case domain.OutcomeRefusal:
		content = "Refus: " + string(*patch.RefusalReason)
	case domain.OutcomeAppointmentSet:
		content = "Rendez-vous fixé le " + patch.NextCallbackAt.Format("02/01/2006 15:04")
	default:
		content = "Appel terminé"
	}
	if note != "" {
		content += " - " + note
	}
	return content
}
