package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/beadforge/forge/internal/worker"
)

// Phase is where a project's loop currently is.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseCoding Phase = "coding"
	PhaseReview Phase = "review"
)

// RunState is the process-lifetime state of one project's loop. It is never
// persisted; the store is the only durable record.
type RunState struct {
	mu sync.Mutex

	project        string
	phase          Phase
	itemID         string
	attempt        int
	failures       int
	rejections     int
	lastDiff       string
	lastSummary    string
	lastTestOutput string
	lastActivity   time.Time
	completed      int
	failed         int

	running bool
	handle  worker.Handle
}

// Snapshot is a point-in-time copy of a RunState for display.
type Snapshot struct {
	Project        string    `json:"project"`
	Phase          Phase     `json:"phase"`
	ItemID         string    `json:"item_id,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	Failures       int       `json:"failures"`
	Rejections     int       `json:"rejections"`
	LastSummary    string    `json:"last_summary,omitempty"`
	LastDiff       string    `json:"-"`
	LastTestOutput string    `json:"-"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	Running        bool      `json:"running"`
	WorkerActive   bool      `json:"worker_active"`
}

// Snapshot returns a copy of the current state.
func (s *RunState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Project:        s.project,
		Phase:          s.phase,
		ItemID:         s.itemID,
		Attempt:        s.attempt,
		Failures:       s.failures,
		Rejections:     s.rejections,
		LastSummary:    s.lastSummary,
		LastDiff:       s.lastDiff,
		LastTestOutput: s.lastTestOutput,
		LastActivity:   s.lastActivity,
		Completed:      s.completed,
		Failed:         s.failed,
		Running:        s.running,
		WorkerActive:   s.handle != nil,
	}
}

func (s *RunState) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.phase = PhaseIdle
	s.itemID = ""
	s.handle = nil
}

func (s *RunState) begin(itemID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemID = itemID
	s.attempt = 1
	s.failures = 0
	s.rejections = 0
	s.lastDiff = ""
	s.lastSummary = ""
	s.lastTestOutput = ""
	s.lastActivity = now
}

func (s *RunState) enter(phase Phase, attempt int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.attempt = attempt
	s.lastActivity = now
}

func (s *RunState) idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.itemID = ""
}

func (s *RunState) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *RunState) setHandle(h worker.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *RunState) recordCoding(r *AttemptResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDiff = r.Diff
	s.lastSummary = r.Summary
	s.lastTestOutput = r.TestOutput
}

func (s *RunState) counts(failures, rejections int) {
	s.mu.Lock()
	s.failures = failures
	s.rejections = rejections
	s.mu.Unlock()
}

func (s *RunState) incCompleted() {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
}

func (s *RunState) incFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Registry holds one RunState per project, created on first access.
type Registry struct {
	mu     sync.Mutex
	states map[string]*RunState
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*RunState)}
}

// Get returns the state for project, creating it if needed.
func (r *Registry) Get(project string) *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[project]
	if !ok {
		st = &RunState{project: project, phase: PhaseIdle}
		r.states[project] = st
	}
	return st
}

// Snapshots returns a copy of every known project's state, sorted by project.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	states := make([]*RunState, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, st)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(states))
	for _, st := range states {
		out = append(out, st.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}
