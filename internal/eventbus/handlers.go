package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// LogHandler writes every event to a structured logger.
// Priority 10 so the log line lands before slower sinks run.
type LogHandler struct {
	Log zerolog.Logger
}

func (h *LogHandler) ID() string           { return "log" }
func (h *LogHandler) Handles() []EventType { return AllEventTypes }
func (h *LogHandler) Priority() int        { return 10 }

func (h *LogHandler) Handle(_ context.Context, event *Event, _ *Result) error {
	lvl := zerolog.InfoLevel
	switch event.Type {
	case EventAgentOutput, EventLoopIdle:
		lvl = zerolog.DebugLevel
	case EventItemEscalated:
		lvl = zerolog.WarnLevel
	}
	e := h.Log.WithLevel(lvl).
		Str("event", string(event.Type)).
		Str("project", event.ProjectID)
	if event.ItemID != "" {
		e = e.Str("item", event.ItemID)
	}
	if event.Phase != "" {
		e = e.Str("phase", event.Phase)
	}
	if event.Attempt > 0 {
		e = e.Int("attempt", event.Attempt)
	}
	if event.NewStatus != "" {
		e = e.Str("old_status", string(event.OldStatus)).Str("new_status", string(event.NewStatus))
	}
	if event.ExitCode != nil {
		e = e.Int("exit_code", *event.ExitCode)
	}
	e.Msg(event.Message)
	return nil
}

// JournalHandler appends events as JSON lines to a file. Worker output
// chunks are skipped; they are too chatty for the journal.
type JournalHandler struct {
	path string
	mu   sync.Mutex
}

// NewJournalHandler creates the journal's parent directory if needed.
func NewJournalHandler(path string) (*JournalHandler, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	return &JournalHandler{path: path}, nil
}

func (h *JournalHandler) ID() string    { return "journal" }
func (h *JournalHandler) Priority() int { return 20 }

func (h *JournalHandler) Handles() []EventType {
	out := make([]EventType, 0, len(AllEventTypes))
	for _, t := range AllEventTypes {
		if t != EventAgentOutput {
			out = append(out, t)
		}
	}
	return out
}

// Path returns the journal file location.
func (h *JournalHandler) Path() string { return h.path }

func (h *JournalHandler) Handle(_ context.Context, event *Event, _ *Result) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	// #nosec G304 - path comes from configuration
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("journal: write: %w", err)
	}
	return f.Close()
}

// ReadJournal returns every event recorded in a journal file.
func ReadJournal(path string) ([]Event, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return events, fmt.Errorf("journal: decode: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
