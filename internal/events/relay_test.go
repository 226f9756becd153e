package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRelay(t *testing.T, mr *miniredis.Miniredis) (*RedisRelay, *InMemoryBus) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	bus := NewInMemoryBus(nil)
	return NewRedisRelay(rdb, bus, nil), bus
}

func TestRelayDeliversTaskExecutedToOtherProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler, schedulerBus := newRelay(t, mr)
	if err := scheduler.Forward(NurturingTaskExecuted{}.EventName()); err != nil {
		t.Fatalf("forward: %v", err)
	}
	api, apiBus := newRelay(t, mr)
	if err := api.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := make(chan NurturingTaskExecuted, 1)
	apiBus.Subscribe(NurturingTaskExecuted{}.EventName(), HandlerFunc(func(_ context.Context, e Event) error {
		got <- e.(NurturingTaskExecuted)
		return nil
	}))

	sent := NurturingTaskExecuted{
		BaseEvent: NewBaseEvent(),
		TaskID:    uuid.New(),
		TenantID:  uuid.New(),
		LeadID:    uuid.New(),
		Channel:   "email",
	}
	if err := schedulerBus.PublishSync(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-got:
		if ev.TaskID != sent.TaskID || ev.TenantID != sent.TenantID || ev.Channel != "email" {
			t.Fatalf("unexpected relayed event %+v", ev)
		}
		if !ev.OccurredAt().Equal(sent.OccurredAt()) {
			t.Fatalf("timestamp not preserved: %v != %v", ev.OccurredAt(), sent.OccurredAt())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}
}

func TestRelayIgnoresOwnEnvelopesAndUnknownNames(t *testing.T) {
	mr := miniredis.RunT(t)
	relay, bus := newRelay(t, mr)

	if err := relay.Forward("leads.outcome.recorded"); err == nil {
		t.Fatal("events without a decoder must not be forwarded")
	}

	delivered := make(chan struct{}, 1)
	bus.Subscribe(NurturingTaskExecuted{}.EventName(), HandlerFunc(func(context.Context, Event) error {
		delivered <- struct{}{}
		return nil
	}))

	relay.receive(context.Background(), []byte(`{"name":"nurturing.task.executed","origin":"`+relay.origin+`","payload":{}}`))
	relay.receive(context.Background(), []byte(`{"name":"calls.call.ended","origin":"other","payload":{}}`))
	relay.receive(context.Background(), []byte(`not json`))
	bus.Wait()

	select {
	case <-delivered:
		t.Fatal("nothing should have been republished")
	default:
	}
}
