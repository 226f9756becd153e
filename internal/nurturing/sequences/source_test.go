package sequences

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"engagement_backend/platform/apperr"
)

const sample = `
sequences:
  - id: j1-j3-j7
    steps:
      - type: reminder
        channel: call
        offset: J+7
      - channel: SMS
        offset: 24h
      - type: mail
        channel: email
        offset: 3d
`

func TestParseOrdersStepsByOffset(t *testing.T) {
	src, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	steps, err := src.GetSequenceTemplates(context.Background(), "j1-j3-j7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []struct {
		channel string
		offset  time.Duration
	}{
		{ChannelSMS, 24 * time.Hour},
		{ChannelEmail, 72 * time.Hour},
		{ChannelCall, 168 * time.Hour},
	}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(steps))
	}
	for i, w := range want {
		if steps[i].Channel != w.channel || steps[i].Offset != w.offset {
			t.Fatalf("step %d: got %s/%s, want %s/%s", i, steps[i].Channel, steps[i].Offset, w.channel, w.offset)
		}
	}
	if steps[0].Type != ChannelSMS {
		t.Fatalf("expected type to default to channel, got %q", steps[0].Type)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	src, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	steps, _ := src.GetSequenceTemplates(context.Background(), "j1-j3-j7")
	steps[0].Channel = "pigeon"

	again, _ := src.GetSequenceTemplates(context.Background(), "j1-j3-j7")
	if again[0].Channel != ChannelSMS {
		t.Fatal("caller mutation leaked into the source")
	}
}

func TestUnknownSequence(t *testing.T) {
	src, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := src.GetSequenceTemplates(context.Background(), "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"no id":      "sequences:\n  - steps:\n      - channel: sms\n        offset: 1h\n",
		"no steps":   "sequences:\n  - id: a\n",
		"bad offset": "sequences:\n  - id: a\n    steps:\n      - channel: sms\n        offset: soon\n",
		"bad chan":   "sequences:\n  - id: a\n    steps:\n      - channel: fax\n        offset: 1h\n",
		"duplicate":  "sequences:\n  - id: a\n    steps:\n      - channel: sms\n        offset: 1h\n  - id: a\n    steps:\n      - channel: sms\n        offset: 1h\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	src, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := src.Reload([]byte("sequences: [")); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := src.GetSequenceTemplates(context.Background(), "j1-j3-j7"); err != nil {
		t.Fatalf("previous sequences lost: %v", err)
	}
}

func TestParseOffset(t *testing.T) {
	cases := map[string]time.Duration{
		"J+1":  24 * time.Hour,
		"7d":   7 * 24 * time.Hour,
		"90m":  90 * time.Minute,
		"168h": 168 * time.Hour,
		"0s":   0,
	}
	for in, want := range cases {
		got, err := ParseOffset(in)
		if err != nil || got != want {
			t.Fatalf("ParseOffset(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "J+x", "-1h", "-2d"} {
		if _, err := ParseOffset(bad); err == nil {
			t.Fatalf("ParseOffset(%q): expected error", bad)
		}
	}
}

func TestReloadOnSignalSwapsSequences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequences.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	trigger := make(chan os.Signal)
	done := make(chan struct{})
	go func() {
		src.ReloadOnSignal(ctx, path, trigger, nil)
		close(done)
	}()

	updated := `
sequences:
  - id: second
    steps:
      - channel: email
        offset: 1d
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	trigger <- syscall.SIGHUP

	if err := os.WriteFile(path, []byte("sequences: ["), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	// The unbuffered send returns once the previous reload has finished.
	trigger <- syscall.SIGHUP
	cancel()
	<-done

	seqs := src.Sequences()
	if len(seqs) != 1 || seqs[0].ID != "second" {
		t.Fatalf("expected the reloaded set to survive a broken file, got %+v", seqs)
	}
	if _, err := src.GetSequenceTemplates(context.Background(), "j1-j3-j7"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected old sequence to be gone, got %v", err)
	}
}
