package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/beadforge/forge/internal/types"
)

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &LogHandler{Log: zerolog.New(&buf)}
	code := 2
	err := h.Handle(context.Background(), &Event{
		Type:      EventAgentCompleted,
		ProjectID: "p",
		ItemID:    "fg-abc",
		Phase:     "coding",
		Attempt:   2,
		ExitCode:  &code,
		Message:   "worker exited",
	}, &Result{})
	if err != nil {
		t.Fatal(err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["item"] != "fg-abc" || line["phase"] != "coding" || line["message"] != "worker exited" {
		t.Errorf("unexpected log fields: %v", line)
	}
	if line["exit_code"] != float64(2) || line["attempt"] != float64(2) {
		t.Errorf("unexpected numeric fields: %v", line)
	}
}

func TestJournalHandlerAppendsAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "journal.jsonl")
	h, err := NewJournalHandler(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, h2 := range h.Handles() {
		if h2 == EventAgentOutput {
			t.Fatal("journal must not subscribe to worker output")
		}
	}

	bus := New(zerolog.Nop())
	bus.Register(h)
	ctx := context.Background()
	bus.Publish(ctx, &Event{Type: EventItemStatusChanged, ProjectID: "p", ItemID: "a",
		OldStatus: types.StatusOpen, NewStatus: types.StatusInProgress})
	bus.Publish(ctx, &Event{Type: EventAgentOutput, ProjectID: "p", Output: "noise"})
	bus.Publish(ctx, &Event{Type: EventItemEscalated, ProjectID: "p", ItemID: "a", Message: "retry limit"})

	events, err := ReadJournal(h.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(events))
	}
	if events[0].NewStatus != types.StatusInProgress || events[1].Type != EventItemEscalated {
		t.Errorf("unexpected entries: %+v", events)
	}
	if events[0].At.IsZero() {
		t.Error("expected timestamp in journal")
	}
}

func TestReadJournalMissing(t *testing.T) {
	_, err := ReadJournal(filepath.Join(t.TempDir(), "nope.jsonl"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestNewExternalHandlerValidation(t *testing.T) {
	if _, err := NewExternalHandler(ExternalHandlerConfig{Command: "true"}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := NewExternalHandler(ExternalHandlerConfig{ID: "x"}); err == nil {
		t.Error("expected error for missing command")
	}
	if _, err := NewExternalHandler(ExternalHandlerConfig{ID: "x", Command: "true", Events: []string{"Nope"}}); err == nil {
		t.Error("expected error for unknown event")
	}

	h, err := NewExternalHandler(ExternalHandlerConfig{ID: "x", Command: "true"})
	if err != nil {
		t.Fatal(err)
	}
	if h.Priority() != 50 || h.Config().Shell != "sh" {
		t.Errorf("defaults not applied: %+v", h.Config())
	}
	if len(h.Handles()) != len(AllEventTypes) {
		t.Errorf("expected all events by default, got %v", h.Handles())
	}
}

func TestExternalHandlerReceivesEventJSON(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	out := filepath.Join(t.TempDir(), "event.json")
	h, err := NewExternalHandler(ExternalHandlerConfig{
		ID:      "capture",
		Command: "cat > " + out + "; echo 'warning: slow sink'",
		Events:  []string{"ItemEscalated"},
	})
	if err != nil {
		t.Fatal(err)
	}
	result := &Result{}
	if err := h.Handle(context.Background(), &Event{Type: EventItemEscalated, ItemID: "fg-1"}, result); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ItemID != "fg-1" {
		t.Errorf("expected item fg-1, got %q", ev.ItemID)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != "slow sink" {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestExternalHandlerNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	h, err := NewExternalHandler(ExternalHandlerConfig{ID: "fail", Command: "echo nope >&2; exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	err = h.Handle(context.Background(), &Event{Type: EventLoopIdle}, &Result{})
	if err == nil || !strings.Contains(err.Error(), "exit 3: nope") {
		t.Fatalf("expected exit error, got %v", err)
	}
}
