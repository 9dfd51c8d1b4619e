package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ExternalHandlerConfig is the serializable configuration for an external handler.
type ExternalHandlerConfig struct {
	ID       string   `json:"id" mapstructure:"id"`
	Command  string   `json:"command" mapstructure:"command"`
	Events   []string `json:"events" mapstructure:"events"`
	Priority int      `json:"priority,omitempty" mapstructure:"priority"` // Default 50
	Shell    string   `json:"shell,omitempty" mapstructure:"shell"`       // Default "sh"
}

// ExternalHandler runs a shell command for each matching event.
//
// Protocol:
//   - Event JSON is passed on stdin
//   - Exit 0 = delivered; stdout lines starting with "warning:" become warnings
//   - Non-zero exit = error (logged by the bus, chain continues)
type ExternalHandler struct {
	config ExternalHandlerConfig
	events []EventType
}

// NewExternalHandler validates cfg and fills defaults.
func NewExternalHandler(cfg ExternalHandlerConfig) (*ExternalHandler, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("external handler: id is required")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("external handler %s: command is required", cfg.ID)
	}
	if cfg.Priority == 0 {
		cfg.Priority = 50
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	events, err := ParseEventTypes(cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("external handler %s: %w", cfg.ID, err)
	}
	return &ExternalHandler{config: cfg, events: events}, nil
}

func (h *ExternalHandler) ID() string           { return h.config.ID }
func (h *ExternalHandler) Handles() []EventType { return h.events }
func (h *ExternalHandler) Priority() int        { return h.config.Priority }

// Config returns the handler configuration.
func (h *ExternalHandler) Config() ExternalHandlerConfig { return h.config }

func (h *ExternalHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	input, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("external handler %s: marshal event: %w", h.config.ID, err)
	}

	// #nosec G204 - command comes from configuration
	cmd := exec.CommandContext(ctx, h.config.Shell, "-c", h.config.Command)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return fmt.Errorf("external handler %s: exit %d: %s", h.config.ID, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("external handler %s: exec: %w", h.config.ID, err)
	}

	for _, line := range strings.Split(stdout.String(), "\n") {
		if w, ok := strings.CutPrefix(strings.TrimSpace(line), "warning:"); ok {
			result.Warnings = append(result.Warnings, strings.TrimSpace(w))
		}
	}
	return nil
}
