// Package worker defines the contract between the orchestrator and the
// external coding and review agents, plus a process-backed implementation.
package worker

import (
	"context"
)

// Role distinguishes the two kinds of worker the pipeline runs.
type Role string

const (
	RoleCoder    Role = "coder"
	RoleReviewer Role = "reviewer"
)

// Handle is a running worker. Done is closed once the process has exited
// and OnExit has returned.
type Handle interface {
	Kill() error
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed. -1 means the worker was killed
	// by a signal.
	ExitCode() int
}

// SpawnOptions carries per-attempt settings.
type SpawnOptions struct {
	Dir        string
	ResultPath string
	// ConfigPath points at the per-item agent config file, if any.
	ConfigPath string
	Env        []string
	OnOutput   func(chunk []byte)
	OnExit     func(code int)
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, promptPath string, profile Profile, opts SpawnOptions) (Handle, error)
}

// Environment variables exported to every worker process.
const (
	EnvPrompt  = "FORGE_PROMPT"
	EnvResult  = "FORGE_RESULT"
	EnvConfig  = "FORGE_CONFIG"
	EnvRole    = "FORGE_ROLE"
	EnvProfile = "FORGE_PROFILE"
	EnvModel   = "FORGE_MODEL"
)
