// Package types defines core data structures for the forge task graph.
package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// WorkItem represents a schedulable unit of work or a container (epic).
type WorkItem struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Kind        ItemKind   `json:"kind"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"` // Lower is more urgent; no omitempty, 0 is valid
	Assignee    string     `json:"assignee,omitempty"`
	Complexity  *int       `json:"complexity,omitempty"` // 1-10, consumed by worker profile selection only
	Labels      []string   `json:"labels,omitempty"`
	Extra       Attributes `json:"extra,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`   // Set once, on first non-empty assignee
	CompletedAt *time.Time `json:"completed_at,omitempty"` // Set once, on close

	// Seq is the insertion order within a store. Breaks priority ties.
	Seq int64 `json:"seq"`
}

// Clone returns a deep copy so callers can never mutate committed store state.
func (i *WorkItem) Clone() *WorkItem {
	if i == nil {
		return nil
	}
	c := *i
	if i.Complexity != nil {
		v := *i.Complexity
		c.Complexity = &v
	}
	if i.StartedAt != nil {
		v := *i.StartedAt
		c.StartedAt = &v
	}
	if i.CompletedAt != nil {
		v := *i.CompletedAt
		c.CompletedAt = &v
	}
	c.Labels = slices.Clone(i.Labels)
	c.Extra = i.Extra.Clone()
	return &c
}

// HasLabel reports whether the label is present.
func (i *WorkItem) HasLabel(label string) bool {
	return slices.Contains(i.Labels, label)
}

// Validate checks if the item has valid field values.
func (i *WorkItem) Validate() error {
	if len(i.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if strings.TrimSpace(i.ProjectID) == "" {
		return fmt.Errorf("project is required")
	}
	if i.Priority < 0 {
		return fmt.Errorf("priority cannot be negative (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.Kind.IsValid() {
		return fmt.Errorf("invalid kind: %q", i.Kind)
	}
	if i.Complexity != nil && (*i.Complexity < 1 || *i.Complexity > 10) {
		return fmt.Errorf("complexity must be between 1 and 10 (got %d)", *i.Complexity)
	}
	for k := range i.Extra {
		if err := ValidateAttributeKey(k); err != nil {
			return err
		}
	}
	// completed_at is write-once; it survives a reopen, so only the
	// closed direction is enforced.
	if i.Status == StatusClosed && i.CompletedAt == nil {
		return fmt.Errorf("closed items must have completed_at timestamp")
	}
	return nil
}

// SetDefaults fills zero-valued fields that have a non-zero default.
func (i *WorkItem) SetDefaults() {
	if i.Status == "" {
		i.Status = StatusOpen
	}
	if i.Kind == "" {
		i.Kind = KindTask
	}
}

// NormalizeLabels returns labels as a sorted set with blanks removed.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Status represents the current state of a work item
type Status string

// Work item status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// ItemKind categorizes the kind of work
type ItemKind string

// Well-known kinds. Other non-empty kinds are accepted.
const (
	KindEpic    ItemKind = "epic"
	KindTask    ItemKind = "task"
	KindBug     ItemKind = "bug"
	KindChore   ItemKind = "chore"
	KindFeature ItemKind = "feature"
)

// IsValid accepts any non-empty kind up to 32 characters.
func (k ItemKind) IsValid() bool {
	return len(k) > 0 && len(k) <= 32
}

// IsContainer reports whether items of this kind group others and are never worked directly.
func (k ItemKind) IsContainer() bool {
	return k == KindEpic
}

// Dependency is a directed edge between two items. Identity is (FromID, ToID).
type Dependency struct {
	FromID    string         `json:"from_id"`
	ToID      string         `json:"to_id"`
	Type      DependencyType `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
}

// Key returns the edge identity.
func (d *Dependency) Key() EdgeKey {
	return EdgeKey{FromID: d.FromID, ToID: d.ToID}
}

// EdgeKey identifies an edge. At most one edge exists per directed pair.
type EdgeKey struct {
	FromID string
	ToID   string
}

// DependencyType categorizes the relationship
type DependencyType string

// Dependency type constants
const (
	// DepBlocks gates readiness: FromID cannot start until ToID is closed.
	DepBlocks DependencyType = "blocks"
	// DepParentChild expresses containment: FromID is a child of ToID.
	DepParentChild DependencyType = "parent-child"
	// DepDiscoveredFrom is provenance only and never gates anything.
	DepDiscoveredFrom DependencyType = "discovered-from"
)

// IsValid checks if the dependency type value is valid
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepParentChild, DepDiscoveredFrom:
		return true
	}
	return false
}

// AffectsReadyWork returns true if this dependency type blocks work.
func (d DependencyType) AffectsReadyWork() bool {
	return d == DepBlocks
}

// BlockedItem extends WorkItem with blocking information
type BlockedItem struct {
	WorkItem
	BlockedByCount int      `json:"blocked_by_count"`
	BlockedBy      []string `json:"blocked_by"`
	// EpicBlocked is set when the containing epic is blocked.
	EpicBlocked string `json:"epic_blocked,omitempty"`
}

// Statistics provides aggregate counts for one project
type Statistics struct {
	TotalItems      int `json:"total_items"`
	OpenItems       int `json:"open_items"`
	InProgressItems int `json:"in_progress_items"`
	BlockedItems    int `json:"blocked_items"`
	ClosedItems     int `json:"closed_items"`
	ReadyItems      int `json:"ready_items"`
	Epics           int `json:"epics"`
	Dependencies    int `json:"dependencies"`
}

// ItemFilter is used to filter item queries
type ItemFilter struct {
	Status   *Status
	Kind     *ItemKind
	Assignee *string
	Labels   []string     // AND semantics: item must have ALL these labels
	ParentID string       // Only direct children of this item
	Sort     []SortOption // Empty means DefaultSortOptions
	Limit    int
}

// Matches reports whether the item satisfies the scalar parts of the filter.
// ParentID is resolved by the store since it needs the edge set.
func (f *ItemFilter) Matches(i *WorkItem) bool {
	if f.Status != nil && i.Status != *f.Status {
		return false
	}
	if f.Kind != nil && i.Kind != *f.Kind {
		return false
	}
	if f.Assignee != nil && i.Assignee != *f.Assignee {
		return false
	}
	for _, l := range f.Labels {
		if !i.HasLabel(l) {
			return false
		}
	}
	return true
}
