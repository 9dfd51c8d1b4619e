package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/beadforge/forge/internal/decision"
	"github.com/beadforge/forge/internal/eventbus"
	"github.com/beadforge/forge/internal/git"
	"github.com/beadforge/forge/internal/worker"
)

// mockGit records calls and lets tests inject errors per operation.
type mockGit struct {
	mu     sync.Mutex
	calls  []string
	merged bool
	errs   map[string]error

	mergeAuthor git.Signature
}

func newMockGit() *mockGit { return &mockGit{errs: make(map[string]error)} }

func (m *mockGit) record(op string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := op
	for _, a := range args {
		call += " " + a
	}
	m.calls = append(m.calls, call)
	return m.errs[op]
}

func (m *mockGit) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockGit) count(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == op || len(c) > len(op) && c[:len(op)+1] == op+" " {
			n++
		}
	}
	return n
}

func (m *mockGit) CreateBranch(_ context.Context, _, branch, base string) error {
	return m.record("create", branch, base)
}

func (m *mockGit) CreateOrCheckoutBranch(_ context.Context, _, branch, base string) error {
	return m.record("checkout-or-create", branch, base)
}

func (m *mockGit) Checkout(_ context.Context, _, branch string) error {
	return m.record("checkout", branch)
}

func (m *mockGit) CommitAll(_ context.Context, _, _ string, _ git.Signature) (bool, error) {
	return true, m.record("commit")
}

func (m *mockGit) GetDiff(_ context.Context, _, base, branch string) (string, error) {
	if err := m.record("diff", base, branch); err != nil {
		return "", err
	}
	return "diff --git a/x.go b/x.go\n+package x\n", nil
}

func (m *mockGit) VerifyMerge(_ context.Context, _, branch, base string) (bool, error) {
	err := m.record("verify-merge", branch, base)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merged, err
}

func (m *mockGit) Merge(_ context.Context, _, branch, base, _ string, author git.Signature) error {
	m.mu.Lock()
	m.mergeAuthor = author
	m.mu.Unlock()
	return m.record("merge", branch, base)
}

func (m *mockGit) DeleteBranch(_ context.Context, _, branch string) error {
	return m.record("delete", branch)
}

func (m *mockGit) RevertAndReturnToMain(_ context.Context, _, base string) error {
	return m.record("revert", base)
}

// behavior scripts one worker run.
type behavior struct {
	result   *worker.Result // nil: exit without writing a result
	exitCode int
	hang     bool // stay silent until killed
	output   []string
}

type spawnCall struct {
	Role   worker.Role
	N      int // 1-based count of spawns for this role
	Prompt string
}

// mockSpawner runs scripted workers without starting processes.
type mockSpawner struct {
	mu     sync.Mutex
	counts map[worker.Role]int
	calls  []spawnCall
	script func(call spawnCall) behavior
	err    error
}

func newMockSpawner(script func(call spawnCall) behavior) *mockSpawner {
	return &mockSpawner{counts: make(map[worker.Role]int), script: script}
}

func (m *mockSpawner) Spawn(_ context.Context, promptPath string, profile worker.Profile, opts worker.SpawnOptions) (worker.Handle, error) {
	prompt, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, fmt.Errorf("read prompt: %w", err)
	}
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return nil, m.err
	}
	m.counts[profile.Role]++
	call := spawnCall{Role: profile.Role, N: m.counts[profile.Role], Prompt: string(prompt)}
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	b := m.script(call)
	h := &mockHandle{done: make(chan struct{})}
	if b.hang {
		h.code.Store(-1)
		return h, nil
	}
	go func() {
		for _, o := range b.output {
			if opts.OnOutput != nil {
				opts.OnOutput([]byte(o))
			}
		}
		if b.result != nil {
			_ = worker.WriteResult(opts.ResultPath, *b.result)
		}
		h.code.Store(int64(b.exitCode))
		h.finish()
	}()
	return h, nil
}

func (m *mockSpawner) Calls(role worker.Role) []spawnCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []spawnCall
	for _, c := range m.calls {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

type mockHandle struct {
	done   chan struct{}
	once   sync.Once
	code   atomic.Int64
	killed atomic.Bool
}

func (h *mockHandle) finish() { h.once.Do(func() { close(h.done) }) }

func (h *mockHandle) Kill() error {
	h.killed.Store(true)
	h.finish()
	return nil
}

func (h *mockHandle) Done() <-chan struct{} { return h.done }
func (h *mockHandle) ExitCode() int         { return int(h.code.Load()) }

// scriptedTests returns results in order, then repeats the last one.
type scriptedTests struct {
	mu      sync.Mutex
	results []TestResult
	runs    int
}

func (s *scriptedTests) Run(_ context.Context, _ string) (TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if len(s.results) == 0 {
		return TestResult{Passed: true}, nil
	}
	i := s.runs - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

// recordingEvaluator answers from a queue of decisions, then the default.
type recordingEvaluator struct {
	mu      sync.Mutex
	answers []bool
	err     error
	reqs    []decision.Request
	onCall  func(req decision.Request)
}

func (e *recordingEvaluator) Evaluate(_ context.Context, req decision.Request) (decision.Decision, error) {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	onCall := e.onCall
	var answer *bool
	if len(e.answers) > 0 {
		a := e.answers[0]
		e.answers = e.answers[1:]
		answer = &a
	}
	err := e.err
	e.mu.Unlock()

	if onCall != nil {
		onCall(req)
	}
	if err != nil {
		return decision.Decision{}, err
	}
	if answer == nil {
		return decision.Default(req, "test"), nil
	}
	return decision.Decision{Approved: *answer, Choice: req.ChoiceFor(*answer), RespondedBy: "test"}, nil
}

func (e *recordingEvaluator) Requests() []decision.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]decision.Request, len(e.reqs))
	copy(out, e.reqs)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recordingSink) Publish(_ context.Context, ev *eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
}

func (r *recordingSink) Types() []eventbus.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingDeployer struct {
	mu    sync.Mutex
	items []string
	err   error
}

func (d *recordingDeployer) Trigger(_ context.Context, _, item string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, item)
	return d.err
}
