package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ProcessSpawner runs profile commands as local processes.
type ProcessSpawner struct {
	Shell string // Default "sh"
	Log   zerolog.Logger
	// WaitDelay bounds how long output copying may outlive the process.
	WaitDelay time.Duration
}

var _ Spawner = (*ProcessSpawner)(nil)

// Spawn starts profile.Command under the shell. The worker is killed when
// ctx is cancelled.
func (s *ProcessSpawner) Spawn(ctx context.Context, promptPath string, profile Profile, opts SpawnOptions) (Handle, error) {
	if strings.TrimSpace(profile.Command) == "" {
		return nil, fmt.Errorf("profile %s: command is required", profile.Name)
	}
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}

	// #nosec G204 - command comes from the profile catalog
	cmd := exec.Command(shell, "-c", profile.Command)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), profile.Environ()...)
	cmd.Env = append(cmd.Env,
		EnvPrompt+"="+promptPath,
		EnvResult+"="+opts.ResultPath,
		EnvConfig+"="+opts.ConfigPath,
		EnvRole+"="+string(profile.Role),
		EnvProfile+"="+profile.Name,
		EnvModel+"="+profile.Model,
	)
	cmd.Env = append(cmd.Env, opts.Env...)
	out := &outputWriter{fn: opts.OnOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", profile.Name, err)
	}
	log := s.Log.With().Str("profile", profile.Name).Int("pid", cmd.Process.Pid).Logger()
	log.Debug().Str("dir", opts.Dir).Msg("worker started")

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	h.exitCode.Store(-1)
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Kill()
		case <-h.done:
		}
	}()
	go func() {
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			log.Warn().Err(err).Msg("worker wait failed")
		}
		h.exitCode.Store(int64(code))
		log.Debug().Int("exit_code", code).Bool("killed", h.killed.Load()).Msg("worker exited")
		if opts.OnExit != nil {
			opts.OnExit(code)
		}
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode atomic.Int64
	killed   atomic.Bool
}

func (h *processHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if h.killed.CompareAndSwap(false, true) {
		terminateProcess(h.cmd)
	}
	return nil
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) ExitCode() int { return int(h.exitCode.Load()) }

// Killed reports whether Kill was invoked before the process exited.
func (h *processHandle) Killed() bool { return h.killed.Load() }

// outputWriter forwards stdout and stderr chunks to a single callback.
type outputWriter struct {
	mu sync.Mutex
	fn func([]byte)
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if w.fn == nil {
		return len(p), nil
	}
	chunk := append([]byte(nil), p...)
	w.mu.Lock()
	w.fn(chunk)
	w.mu.Unlock()
	return len(p), nil
}
