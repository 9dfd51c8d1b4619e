// Package contextpack assembles the per-attempt working directory a worker
// consumes: a prompt bundle, a result location and an agent config file.
package contextpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/beadforge/forge/internal/archive"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
	"github.com/beadforge/forge/internal/worker"
)

// File names inside a bundle directory.
const (
	PromptFile = "prompt.md"
	ResultFile = "result.json"
	ConfigFile = "agent.yaml"
)

// Phases a bundle can be assembled for.
const (
	PhaseCoding = "coding"
	PhaseReview = "review"
)

// maxDiffBytes caps how much of a diff is inlined into a review prompt.
const maxDiffBytes = 200 << 10

// ItemReader is the slice of the store the assembler reads.
type ItemReader interface {
	GetItem(ctx context.Context, projectID, id string) (*types.WorkItem, error)
	GetDependencies(ctx context.Context, id string) ([]*types.Dependency, error)
}

// SessionReader looks up archived outcomes of finished items.
type SessionReader interface {
	Latest(ctx context.Context, projectID, itemID string, outcome archive.Outcome) (*archive.Session, error)
}

// Request describes one attempt.
type Request struct {
	ProjectID  string
	ItemID     string
	Phase      string
	Attempt    int
	Feedback   string // Reviewer feedback or failure reason from the previous attempt
	Diff       string // Review phase only
	TestOutput string
	Branch     string
	BaseBranch string
	RepoDir    string
	Profile    worker.Profile
}

// Bundle is an assembled working directory.
type Bundle struct {
	Dir        string
	PromptPath string
	ResultPath string
	ConfigPath string
}

// AgentConfig is written to agent.yaml next to the prompt.
type AgentConfig struct {
	Project    string    `yaml:"project"`
	ItemID     string    `yaml:"item_id"`
	Title      string    `yaml:"title"`
	Phase      string    `yaml:"phase"`
	Attempt    int       `yaml:"attempt"`
	Role       string    `yaml:"role"`
	Profile    string    `yaml:"profile,omitempty"`
	Model      string    `yaml:"model,omitempty"`
	Complexity int       `yaml:"complexity,omitempty"`
	Labels     []string  `yaml:"labels,omitempty"`
	Prompt     string    `yaml:"prompt"`
	Result     string    `yaml:"result"`
	RepoDir    string    `yaml:"repo_dir,omitempty"`
	Branch     string    `yaml:"branch,omitempty"`
	BaseBranch string    `yaml:"base_branch,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// ReadAgentConfig loads an agent.yaml file.
func ReadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is inside a bundle
	if err != nil {
		return nil, err
	}
	var c AgentConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &c, nil
}

// Assembler builds bundles under WorkDir.
type Assembler struct {
	Items    ItemReader
	Sessions SessionReader // Optional
	WorkDir  string
	Now      func() time.Time

	tmpl *template.Template
}

// New creates an assembler.
func New(items ItemReader, sessions SessionReader, workDir string) (*Assembler, error) {
	tmpl, err := template.New("prompt").Funcs(template.FuncMap{
		"indent": indent,
	}).Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Assembler{Items: items, Sessions: sessions, WorkDir: workDir, Now: time.Now, tmpl: tmpl}, nil
}

// DependencyOutput is what a finished blocker left behind.
type DependencyOutput struct {
	ID          string
	Title       string
	CloseReason string
	Summary     string
}

type promptData struct {
	Request
	Item       *types.WorkItem
	Epic       *types.WorkItem
	Parent     *types.WorkItem
	ShowParent bool
	Deps       []DependencyOutput
	Diff       string
	Truncated  bool
	ResultPath string
}

// Assemble writes the bundle for req and returns its locations. A stale
// result record from an earlier run of the same attempt is removed.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Bundle, error) {
	if req.Phase != PhaseCoding && req.Phase != PhaseReview {
		return nil, fmt.Errorf("unknown phase %q", req.Phase)
	}
	if req.Attempt <= 0 {
		req.Attempt = 1
	}
	item, err := a.Items.GetItem(ctx, req.ProjectID, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}

	b := &Bundle{Dir: a.bundleDir(req)}
	b.PromptPath = filepath.Join(b.Dir, PromptFile)
	b.ResultPath = filepath.Join(b.Dir, ResultFile)
	b.ConfigPath = filepath.Join(b.Dir, ConfigFile)
	if err := os.MkdirAll(b.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}
	if err := os.Remove(b.ResultPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("clear stale result: %w", err)
	}

	data := promptData{Request: req, Item: item, ResultPath: b.ResultPath}
	data.Parent, data.Epic = a.ancestors(ctx, req.ProjectID, item.ID)
	data.ShowParent = data.Parent != nil && (data.Epic == nil || data.Parent.ID != data.Epic.ID)
	data.Deps, err = a.dependencyOutputs(ctx, req.ProjectID, item.ID)
	if err != nil {
		return nil, err
	}
	data.Diff = req.Diff
	if len(data.Diff) > maxDiffBytes {
		data.Diff = data.Diff[:maxDiffBytes]
		data.Truncated = true
	}

	var prompt strings.Builder
	if err := a.tmpl.Execute(&prompt, data); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	if err := os.WriteFile(b.PromptPath, []byte(prompt.String()), 0o600); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}

	cfg := AgentConfig{
		Project:    req.ProjectID,
		ItemID:     item.ID,
		Title:      item.Title,
		Phase:      req.Phase,
		Attempt:    req.Attempt,
		Role:       string(roleFor(req)),
		Profile:    req.Profile.Name,
		Model:      req.Profile.Model,
		Labels:     item.Labels,
		Prompt:     b.PromptPath,
		Result:     b.ResultPath,
		RepoDir:    req.RepoDir,
		Branch:     req.Branch,
		BaseBranch: req.BaseBranch,
		CreatedAt:  a.now().UTC(),
	}
	if item.Complexity != nil {
		cfg.Complexity = *item.Complexity
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal agent config: %w", err)
	}
	if err := os.WriteFile(b.ConfigPath, out, 0o600); err != nil {
		return nil, fmt.Errorf("write agent config: %w", err)
	}
	return b, nil
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func roleFor(req Request) worker.Role {
	if req.Profile.Role != "" {
		return req.Profile.Role
	}
	if req.Phase == PhaseReview {
		return worker.RoleReviewer
	}
	return worker.RoleCoder
}

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (a *Assembler) bundleDir(req Request) string {
	return filepath.Join(a.WorkDir,
		unsafePath.ReplaceAllString(req.ProjectID, "_"),
		unsafePath.ReplaceAllString(req.ItemID, "_"),
		fmt.Sprintf("%s-%d", req.Phase, req.Attempt))
}

// ancestors returns the direct parent and the nearest containing epic.
func (a *Assembler) ancestors(ctx context.Context, projectID, id string) (parent, epic *types.WorkItem) {
	seen := map[string]bool{id: true}
	cur := id
	for {
		deps, err := a.Items.GetDependencies(ctx, cur)
		if err != nil {
			return parent, epic
		}
		next := ""
		for _, d := range deps {
			if d.Type == types.DepParentChild && d.FromID == cur {
				next = d.ToID
				break
			}
		}
		if next == "" || seen[next] {
			return parent, epic
		}
		seen[next] = true
		p, err := a.Items.GetItem(ctx, projectID, next)
		if err != nil {
			return parent, epic
		}
		if parent == nil {
			parent = p
		}
		if p.Kind.IsContainer() {
			return parent, p
		}
		cur = next
	}
}

// dependencyOutputs collects closed blockers with their archived summaries.
func (a *Assembler) dependencyOutputs(ctx context.Context, projectID, id string) ([]DependencyOutput, error) {
	deps, err := a.Items.GetDependencies(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load dependencies: %w", err)
	}
	var out []DependencyOutput
	for _, d := range deps {
		if d.FromID != id || d.Type != types.DepBlocks {
			continue
		}
		blocker, err := a.Items.GetItem(ctx, projectID, d.ToID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load blocker %s: %w", d.ToID, err)
		}
		if blocker.Status != types.StatusClosed {
			continue
		}
		do := DependencyOutput{ID: blocker.ID, Title: blocker.Title, CloseReason: blocker.CloseReason}
		if a.Sessions != nil {
			if s, err := a.Sessions.Latest(ctx, projectID, blocker.ID, archive.OutcomeApproved); err == nil {
				do.Summary = s.Summary
			}
		}
		out = append(out, do)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func indent(prefix, s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
