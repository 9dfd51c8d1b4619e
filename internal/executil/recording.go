package executil

import (
	"context"
	"strings"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Dir  string
	Cmd  string
	Args []string
}

// String renders the command as "cmd arg1 arg2".
func (c RecordedCommand) String() string {
	return strings.TrimSpace(c.Cmd + " " + strings.Join(c.Args, " "))
}

// RecordingExecutor captures commands for testing.
// Outputs and Errors are looked up by "cmd subcommand" first (e.g. "git diff"),
// then by the bare command name.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	Outputs map[string][]byte
	Errors  map[string]error

	// Hook, when set, overrides Outputs/Errors.
	Hook func(c RecordedCommand) ([]byte, error)
}

// Run records the command and returns configured output/error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record("", cmd, args...)
}

// RunDir records the command with directory and returns configured output/error.
func (e *RecordingExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(dir, cmd, args...)
}

func (e *RecordingExecutor) record(dir, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	rc := RecordedCommand{Dir: dir, Cmd: cmd, Args: append([]string(nil), args...)}
	e.Commands = append(e.Commands, rc)
	hook := e.Hook
	e.mu.Unlock()

	if hook != nil {
		return hook(rc)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	keys := []string{cmd}
	if len(args) > 0 {
		keys = []string{cmd + " " + args[0], cmd}
	}
	var out []byte
	var err error
	for _, k := range keys {
		if o, ok := e.Outputs[k]; ok {
			out = o
			break
		}
	}
	for _, k := range keys {
		if er, ok := e.Errors[k]; ok {
			err = er
			break
		}
	}
	return out, err
}

// Recorded returns a copy of the recorded commands.
func (e *RecordingExecutor) Recorded() []RecordedCommand {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RecordedCommand(nil), e.Commands...)
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}
