package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
)

type memoryStore struct {
	entries []Entry
	err     error
}

func (m *memoryStore) Insert(_ context.Context, e Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) ListForLead(_ context.Context, _, leadID uuid.UUID, limit int) ([]Entry, error) {
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].LeadID == leadID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func TestLogActivitySanitizesAndTruncates(t *testing.T) {
	store := &memoryStore{}
	svc := New(store, nil)
	lead := uuid.New()

	long := "<b>Rappel</b> " + strings.Repeat("é", ContentMaxLen)
	if err := svc.LogActivity(context.Background(), uuid.New(), lead, TypeCallbackReminder, long, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := store.entries[0]
	if strings.Contains(e.Content, "<b>") {
		t.Fatalf("markup should be stripped: %q", e.Content)
	}
	if utf8.RuneCountInString(e.Content) > ContentMaxLen {
		t.Fatalf("content not truncated: %d runes", utf8.RuneCountInString(e.Content))
	}
	if e.Metadata == nil {
		t.Fatal("metadata should default to an empty object")
	}
}

func TestLogActivityRequiresType(t *testing.T) {
	svc := New(&memoryStore{}, nil)
	if err := svc.LogActivity(context.Background(), uuid.New(), uuid.New(), "", "x", nil); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestLogActivityWrapsStoreError(t *testing.T) {
	boom := errors.New("insert failed")
	svc := New(&memoryStore{err: boom}, nil)
	err := svc.LogActivity(context.Background(), uuid.New(), uuid.New(), TypeCallOutcome, "x", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestListForLeadNewestFirst(t *testing.T) {
	store := &memoryStore{}
	svc := New(store, nil)
	org, lead := uuid.New(), uuid.New()
	for _, c := range []string{"one", "two", "three"} {
		_ = svc.LogActivity(context.Background(), org, lead, TypeCallOutcome, c, nil)
	}
	_ = svc.LogActivity(context.Background(), org, uuid.New(), TypeCallOutcome, "other", nil)

	got, err := svc.ListForLead(context.Background(), org, lead, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "two" {
		t.Fatalf("unexpected entries %+v", got)
	}
}
