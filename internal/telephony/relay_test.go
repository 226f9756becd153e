package telephony

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStatusRelayReachesOwningInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	_, srv := newFakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newInstance := func() (*RESTProvider, *RedisStatusRelay) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		p := NewRESTProvider(testConfig{baseURL: srv.URL}, nil)
		relay := NewRedisStatusRelay(rdb, p, nil)
		if err := relay.Start(ctx); err != nil {
			t.Fatalf("start relay: %v", err)
		}
		return p, relay
	}
	_, webhookSide := newInstance()
	owner, _ := newInstance()

	h, err := owner.Initialize(ctx, "operator-credential")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	call, err := h.Connect(ctx, ConnectParams{To: "+33612345678"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !webhookSide.HandleStatus(call.ID(), "in-progress", "") {
		t.Fatal("status should be published")
	}
	if ev := nextEvent(t, call); ev.Kind != EventAccept {
		t.Fatalf("expected accept on the owning instance, got %s", ev.Kind)
	}
}

func TestRedisStatusRelayFallsBackToLocalRouter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	router := &recordingRouter{}
	relay := NewRedisStatusRelay(rdb, router, nil)

	mr.Close()
	if !relay.HandleStatus("CA7", "completed", "") {
		t.Fatal("local router should take the status when redis is down")
	}
	if router.id != "CA7" || router.status != "completed" {
		t.Fatalf("unexpected routed status %+v", router)
	}
	_ = rdb.Close()
}
