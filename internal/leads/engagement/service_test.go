package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apptsvc "engagement_backend/internal/appointments/service"
	"engagement_backend/internal/calls"
	"engagement_backend/internal/events"
	"engagement_backend/internal/leads/domain"
	"engagement_backend/internal/leads/repository"
	"engagement_backend/internal/leads/scoring"
	"engagement_backend/internal/nurturing"
	"engagement_backend/internal/nurturing/sequences"
	"engagement_backend/internal/telephony"
	"engagement_backend/platform/apperr"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type memoryLeads struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]domain.Lead
	writeErr  error
	scoreErr  error
	lockCalls int
}

func newMemoryLeads(leads ...domain.Lead) *memoryLeads {
	m := &memoryLeads{leads: make(map[uuid.UUID]domain.Lead)}
	for _, l := range leads {
		m.leads[l.ID] = l
	}
	return m
}

func (m *memoryLeads) GetByID(_ context.Context, id, org uuid.UUID) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok || l.OrganizationID != org {
		return domain.Lead{}, repository.ErrNotFound
	}
	return l, nil
}

func (m *memoryLeads) ApplyOutcome(ctx context.Context, id, org uuid.UUID, fn repository.PatchFunc) (domain.Lead, domain.Patch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	l, ok := m.leads[id]
	if !ok || l.OrganizationID != org {
		return domain.Lead{}, domain.Patch{}, repository.ErrNotFound
	}
	patch, err := fn(ctx, l)
	if err != nil {
		return domain.Lead{}, domain.Patch{}, err
	}
	if m.writeErr != nil {
		return domain.Lead{}, domain.Patch{}, m.writeErr
	}
	updated := patch.Apply(l)
	m.leads[id] = updated
	return updated, patch, nil
}

func (m *memoryLeads) UpdateScore(_ context.Context, id, _ uuid.UUID, score int, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scoreErr != nil {
		return m.scoreErr
	}
	l := m.leads[id]
	l.Score = score
	m.leads[id] = l
	return nil
}

func (m *memoryLeads) get(id uuid.UUID) domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id]
}

type fakeCalendar struct {
	mu        sync.Mutex
	err       error
	booked    []apptsvc.BookParams
	cancelled []uuid.UUID
}

func (c *fakeCalendar) Book(_ context.Context, p apptsvc.BookParams) (domain.BookingConfirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.BookingConfirmation{}, c.err
	}
	c.booked = append(c.booked, p)
	end := p.End
	if end.IsZero() {
		end = p.Start.Add(30 * time.Minute)
	}
	return domain.BookingConfirmation{AppointmentID: uuid.New(), CollaboratorID: p.CollaboratorID, Start: p.Start, End: end}, nil
}

func (c *fakeCalendar) Cancel(_ context.Context, _, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, id)
	return nil
}

type fixedScorer struct {
	score int
	err   error
}

func (f fixedScorer) Recalculate(context.Context, domain.Lead) (*scoring.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &scoring.Result{Score: f.score}, nil
}

type activityRecorder struct {
	mu      sync.Mutex
	entries []string
	meta    []map[string]any
	err     error
}

func (a *activityRecorder) LogActivity(_ context.Context, _, _ uuid.UUID, activityType, content string, metadata map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, activityType+": "+content)
	a.meta = append(a.meta, metadata)
	return nil
}

type staticTemplates map[string][]sequences.Step

func (s staticTemplates) GetSequenceTemplates(_ context.Context, id string) ([]sequences.Step, error) {
	steps, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("unknown nurturing sequence")
	}
	return steps, nil
}

const noAnswerSeq = "no-answer-j1-j3-j7"

var templates = staticTemplates{
	noAnswerSeq: {
		{Type: "follow_up_sms", Channel: sequences.ChannelSMS, Offset: 24 * time.Hour},
		{Type: "follow_up_email", Channel: sequences.ChannelEmail, Offset: 3 * 24 * time.Hour},
		{Type: "callback_reminder", Channel: sequences.ChannelCall, Offset: 7 * 24 * time.Hour},
	},
}

type fixture struct {
	leads     *memoryLeads
	calendar  *fakeCalendar
	activity  *activityRecorder
	store     *nurturing.MemoryStore
	nurturing *nurturing.Service
	bus       *events.InMemoryBus
	svc       *Service
	lead      domain.Lead
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lead := domain.Lead{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		FirstName:      "Camille",
		LastName:       "Martin",
		Phone:          "+33612345678",
		Status:         domain.StatusProspect,
		Score:          50,
	}
	f := &fixture{
		leads:    newMemoryLeads(lead),
		calendar: &fakeCalendar{},
		activity: &activityRecorder{},
		store:    nurturing.NewMemoryStore(),
		bus:      events.NewInMemoryBus(nil),
		lead:     lead,
	}
	f.nurturing = nurturing.New(f.store, templates, nil)
	f.svc = New(f.leads, f.calendar, nil,
		WithScorer(fixedScorer{score: 72}),
		WithNurturing(f.nurturing, noAnswerSeq),
		WithActivityLogger(f.activity),
		WithEventBus(f.bus),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func (f *fixture) record(t *testing.T, outcome domain.Outcome) (Result, error) {
	t.Helper()
	return f.svc.RecordOutcome(context.Background(), RecordOutcomeCommand{
		OrganizationID: f.lead.OrganizationID,
		LeadID:         f.lead.ID,
		ActorID:        uuid.New(),
		Outcome:        outcome,
	})
}

func (f *fixture) activeEnrollment() (nurturing.Enrollment, bool) {
	e, err := f.store.ActiveEnrollment(context.Background(), f.lead.OrganizationID, f.lead.ID)
	return e, err == nil
}

func TestNoAnswerEnrollsOnce(t *testing.T) {
	f := newFixture(t)

	res, err := f.record(t, domain.NoAnswer{Duration: 15 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lead.Status != domain.StatusAttemptedNoAnswer || res.Lead.CallAttempts != 1 {
		t.Fatalf("unexpected lead %+v", res.Lead)
	}
	if res.Enrollment == nil || len(res.Enrollment.Tasks) != 3 {
		t.Fatalf("expected an enrollment with 3 tasks, got %+v", res.Enrollment)
	}
	first := res.Enrollment.ID

	res, err = f.record(t, domain.NoAnswer{})
	if err != nil {
		t.Fatalf("second no answer: %v", err)
	}
	if res.Enrollment != nil {
		t.Fatal("a running sequence must not be replaced")
	}
	active, ok := f.activeEnrollment()
	if !ok || active.ID != first {
		t.Fatalf("expected original enrollment to stay active, got %+v", active)
	}
	if got := f.leads.get(f.lead.ID).CallAttempts; got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestAppointmentSetBooksBeforeTransition(t *testing.T) {
	f := newFixture(t)
	collaborator := uuid.New()
	start := testNow.Add(72 * time.Hour)

	res, err := f.record(t, domain.AppointmentSet{CollaboratorID: collaborator, Start: start})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.calendar.booked) != 1 || f.calendar.booked[0].CollaboratorID != collaborator {
		t.Fatalf("expected one booking for the collaborator, got %+v", f.calendar.booked)
	}
	if res.Appointment == nil || res.Lead.Status != domain.StatusAppointmentSet {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Lead.NextCallbackAt == nil || !res.Lead.NextCallbackAt.Equal(start) {
		t.Fatalf("expected next callback at the appointment, got %v", res.Lead.NextCallbackAt)
	}
}

func TestCalendarFailureBlocksAppointment(t *testing.T) {
	f := newFixture(t)
	f.calendar.err = errors.New("calendar timeout")

	_, err := f.record(t, domain.AppointmentSet{CollaboratorID: uuid.New(), Start: testNow.Add(time.Hour)})
	if !apperr.Is(err, apperr.KindDependencyFailure) {
		t.Fatalf("expected dependency failure, got %v", err)
	}
	lead := f.leads.get(f.lead.ID)
	if lead.Status != domain.StatusProspect || lead.CallAttempts != 0 {
		t.Fatalf("lead must be untouched, got %+v", lead)
	}
	if len(f.activity.entries) != 0 {
		t.Fatal("rejected outcomes are not logged")
	}
}

func TestInvalidAppointmentNeverReachesCalendar(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, domain.AppointmentSet{Start: testNow.Add(time.Hour)})
	if !apperr.Is(err, apperr.KindInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != "select a staff member before confirming" {
		t.Fatalf("expected actionable message, got %v", err)
	}
	if len(f.calendar.booked) != 0 {
		t.Fatal("calendar must not be called for an invalid request")
	}
}

func TestFailedWriteReleasesBooking(t *testing.T) {
	f := newFixture(t)
	f.leads.writeErr = errors.New("serialization failure")

	_, err := f.record(t, domain.AppointmentSet{CollaboratorID: uuid.New(), Start: testNow.Add(time.Hour)})
	if err == nil {
		t.Fatal("expected write error")
	}
	if len(f.calendar.booked) != 1 || len(f.calendar.cancelled) != 1 {
		t.Fatalf("expected the booked slot to be released, booked=%d cancelled=%d",
			len(f.calendar.booked), len(f.calendar.cancelled))
	}
}

func TestRejectedOutcomeLeavesLeadUntouched(t *testing.T) {
	f := newFixture(t)

	_, err := f.record(t, domain.CallbackScheduled{NextCallback: testNow.Add(-time.Minute)})
	if !apperr.Is(err, apperr.KindInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if got := f.leads.get(f.lead.ID); got.CallAttempts != 0 || got.LastCallAt != nil {
		t.Fatalf("lead must be untouched, got %+v", got)
	}
	if _, err := f.record(t, nil); !apperr.Is(err, apperr.KindInvalidPayload) {
		t.Fatalf("nil outcome: expected invalid payload, got %v", err)
	}
}

func TestCollaboratorFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.activity.err = errors.New("audit down")
	f.svc.scorer = fixedScorer{err: errors.New("scoring down")}

	res, err := f.record(t, domain.CallbackScheduled{NextCallback: testNow.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("collaborator failures must not fail the outcome: %v", err)
	}
	if res.Lead.Status != domain.StatusCallbackScheduled || res.Lead.Score != 50 {
		t.Fatalf("unexpected lead %+v", res.Lead)
	}
}

func TestScoreAndTimelineAndEvent(t *testing.T) {
	f := newFixture(t)
	var (
		mu   sync.Mutex
		seen []events.LeadOutcomeRecorded
	)
	f.bus.Subscribe(events.LeadOutcomeRecorded{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.(events.LeadOutcomeRecorded))
		return nil
	}))

	res, err := f.record(t, domain.CallbackScheduled{NextCallback: testNow.Add(48 * time.Hour)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.bus.Wait()

	if res.Lead.Score != 72 || f.leads.get(f.lead.ID).Score != 72 {
		t.Fatalf("expected recomputed score to be stored, got %d", res.Lead.Score)
	}
	if len(f.activity.entries) != 1 || f.activity.meta[0]["outcome"] != "callback_scheduled" {
		t.Fatalf("unexpected timeline %+v", f.activity.entries)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].PreviousStatus != "Prospect" || seen[0].Status != "CallbackScheduled" || seen[0].CallAttempts != 1 {
		t.Fatalf("unexpected events %+v", seen)
	}
}

// Scenario: the lead is in the J+1/J+3/J+7 sequence and refuses; the
// outcome archives the lead and every task of the sequence is cancelled.
func TestRefusalCancelsRunningSequence(t *testing.T) {
	f := newFixture(t)
	enrollment, err := f.nurturing.Enroll(context.Background(), f.lead.OrganizationID, f.lead.ID, noAnswerSeq)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	res, err := f.record(t, domain.Refusal{Reason: domain.RefusalNotInterested})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patch.Status != domain.StatusArchived {
		t.Fatalf("expected Archived, got %s", res.Patch.Status)
	}
	if res.Cancelled == nil || res.Cancelled.ID != enrollment.ID {
		t.Fatalf("expected the running enrollment to be cancelled, got %+v", res.Cancelled)
	}

	got, err := f.nurturing.Get(context.Background(), f.lead.OrganizationID, f.lead.ID)
	if err != nil {
		t.Fatalf("get enrollment: %v", err)
	}
	if got.Status != nurturing.EnrollmentCancelled {
		t.Fatalf("expected cancelled enrollment, got %s", got.Status)
	}
	for _, task := range got.Tasks {
		if task.Status != nurturing.TaskCancelled {
			t.Fatalf("task %d still %s", task.Position, task.Status)
		}
	}
	if len(got.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got.Tasks))
	}

	if _, err := f.record(t, domain.NoAnswer{}); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("archived lead must reject further outcomes, got %v", err)
	}
}

type scenarioCall struct {
	events chan telephony.Event
}

func (c *scenarioCall) ID() string                       { return "CA-scenario" }
func (c *scenarioCall) Events() <-chan telephony.Event   { return c.events }
func (c *scenarioCall) Hangup(context.Context) error     { return nil }
func (c *scenarioCall) Mute(context.Context, bool) error { return nil }

func (c *scenarioCall) emit(kind telephony.EventKind) {
	c.events <- telephony.Event{Kind: kind, OccurredAt: time.Now()}
}

type scenarioProvider struct {
	call *scenarioCall
}

func (p *scenarioProvider) Name() string { return "scenario" }

func (p *scenarioProvider) Initialize(context.Context, string) (telephony.Handle, error) {
	return p, nil
}

func (p *scenarioProvider) Connect(context.Context, telephony.ConnectParams) (telephony.Call, error) {
	return p.call, nil
}

// Scenario: a Prospect is called, the call goes Idle to Connected, and the
// operator ends it with an appointment three days out with collaborator X.
func TestCallThenAppointmentScenario(t *testing.T) {
	f := newFixture(t)
	provider := &scenarioProvider{call: &scenarioCall{events: make(chan telephony.Event, 4)}}
	ctrl := calls.NewController(calls.EndpointKey(f.lead.OrganizationID, uuid.New()), provider, nil)
	defer ctrl.Close()

	var (
		mu       sync.Mutex
		statuses []calls.State
	)
	connected := make(chan struct{})
	ctrl.AddObserver(calls.ObserverFuncs{StatusChange: func(s calls.Session, _ calls.State) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s.State)
		if s.State == calls.StateConnected {
			close(connected)
		}
	}})

	if err := ctrl.Initialize(context.Background(), "operator-token"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	leadID := f.lead.ID
	if _, err := ctrl.Connect(context.Background(), calls.ConnectRequest{Target: f.lead.Phone, LeadID: &leadID}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	provider.call.emit(telephony.EventRinging)
	provider.call.emit(telephony.EventAccept)
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("call never connected")
	}
	mu.Lock()
	want := []calls.State{calls.StateConnecting, calls.StateRinging, calls.StateConnected}
	if len(statuses) != len(want) {
		mu.Unlock()
		t.Fatalf("unexpected statuses %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			mu.Unlock()
			t.Fatalf("unexpected statuses %v", statuses)
		}
	}
	mu.Unlock()

	if err := ctrl.HangUp(context.Background()); err != nil {
		t.Fatalf("hang up: %v", err)
	}
	provider.call.emit(telephony.EventDisconnect)

	collaboratorX := uuid.New()
	start := testNow.Add(3 * 24 * time.Hour)
	session := ctrl.Snapshot()
	res, err := f.svc.RecordOutcome(context.Background(), RecordOutcomeCommand{
		OrganizationID: f.lead.OrganizationID,
		LeadID:         f.lead.ID,
		ActorID:        uuid.New(),
		CallID:         &session.CallID,
		Outcome:        domain.AppointmentSet{CollaboratorID: collaboratorX, Start: start},
	})
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	if res.Lead.Status != domain.StatusAppointmentSet || res.Lead.CallAttempts != f.lead.CallAttempts+1 {
		t.Fatalf("unexpected lead %+v", res.Lead)
	}
	if res.Appointment == nil || res.Appointment.CollaboratorID != collaboratorX {
		t.Fatalf("unexpected booking %+v", res.Appointment)
	}
	if _, ok := f.activeEnrollment(); ok {
		t.Fatal("no nurturing enrollment may be created by an appointment")
	}
	if res.Enrollment != nil {
		t.Fatal("unexpected enrollment on the result")
	}
}
