package memory

import (
	"maps"
	"slices"

	"github.com/beadforge/forge/internal/idgen"
	"github.com/beadforge/forge/internal/types"
)

// graph is an immutable committed state. Items and edges reachable from a
// published graph are never modified; mutations build a new graph.
type graph struct {
	items   map[string]*types.WorkItem
	deps    map[types.EdgeKey]*types.Dependency
	nextSeq int64

	// Derived adjacency, built once per commit.
	outgoing map[string][]*types.Dependency // keyed by FromID
	incoming map[string][]*types.Dependency // keyed by ToID
}

func emptyGraph() *graph {
	return buildGraph(map[string]*types.WorkItem{}, map[types.EdgeKey]*types.Dependency{}, 0)
}

func buildGraph(items map[string]*types.WorkItem, deps map[types.EdgeKey]*types.Dependency, nextSeq int64) *graph {
	g := &graph{
		items:    items,
		deps:     deps,
		nextSeq:  nextSeq,
		outgoing: make(map[string][]*types.Dependency),
		incoming: make(map[string][]*types.Dependency),
	}
	for _, d := range deps {
		g.outgoing[d.FromID] = append(g.outgoing[d.FromID], d)
		g.incoming[d.ToID] = append(g.incoming[d.ToID], d)
	}
	return g
}

// txn accumulates one mutation on top of a base graph.
type txn struct {
	items   map[string]*types.WorkItem
	deps    map[types.EdgeKey]*types.Dependency
	nextSeq int64
	changed bool
}

func (g *graph) begin() *txn {
	return &txn{
		items:   maps.Clone(g.items),
		deps:    maps.Clone(g.deps),
		nextSeq: g.nextSeq,
	}
}

func (t *txn) commit() *graph {
	return buildGraph(t.items, t.deps, t.nextSeq)
}

func (t *txn) put(item *types.WorkItem) {
	t.items[item.ID] = item
	t.changed = true
}

func (t *txn) putEdge(d *types.Dependency) {
	t.deps[d.Key()] = d
	t.changed = true
}

// deleteItems removes items and every edge that mentions them.
func (t *txn) deleteItems(ids map[string]bool) int {
	for k := range t.deps {
		if ids[k.FromID] || ids[k.ToID] {
			delete(t.deps, k)
			t.changed = true
		}
	}
	n := 0
	for id := range ids {
		if _, ok := t.items[id]; ok {
			delete(t.items, id)
			n++
			t.changed = true
		}
	}
	return n
}

func (t *txn) childCount(parentID string) int {
	n := 0
	for k, d := range t.deps {
		if k.ToID == parentID && d.Type == types.DepParentChild {
			n++
		}
	}
	return n
}

// parentEdge returns the target of id's parent-child edge, or "".
func (t *txn) parentEdge(id string) string {
	for k, d := range t.deps {
		if k.FromID == id && d.Type == types.DepParentChild {
			return k.ToID
		}
	}
	return ""
}

// blockers returns the targets of id's blocks edges, sorted.
func (g *graph) blockers(id string) []string {
	var out []string
	for _, d := range g.outgoing[id] {
		if d.Type == types.DepBlocks {
			out = append(out, d.ToID)
		}
	}
	slices.Sort(out)
	return out
}

// openBlockers returns blockers that exist and are not closed.
func (g *graph) openBlockers(id string) []string {
	var out []string
	for _, b := range g.blockers(id) {
		if item, ok := g.items[b]; ok && item.Status != types.StatusClosed {
			out = append(out, b)
		}
	}
	return out
}

// parent returns the hierarchical parent: the parent-child edge target,
// falling back to the dotted id prefix when no edge exists. Graphs written
// before the one-parent rule may hold several edges; the smallest id wins.
func (g *graph) parent(id string) string {
	var edge string
	for _, d := range g.outgoing[id] {
		if d.Type == types.DepParentChild && (edge == "" || d.ToID < edge) {
			edge = d.ToID
		}
	}
	if edge != "" {
		return edge
	}
	if p := idgen.ParentID(id); p != "" {
		if _, ok := g.items[p]; ok {
			return p
		}
	}
	return ""
}

// containingEpic walks parents upward until an epic is found.
func (g *graph) containingEpic(id string) *types.WorkItem {
	seen := map[string]bool{id: true}
	for p := g.parent(id); p != "" && !seen[p]; p = g.parent(p) {
		seen[p] = true
		item, ok := g.items[p]
		if !ok {
			return nil
		}
		if item.Kind.IsContainer() {
			return item
		}
	}
	return nil
}

func (g *graph) isReady(item *types.WorkItem) bool {
	if item.Kind.IsContainer() || item.Status != types.StatusOpen {
		return false
	}
	if len(g.openBlockers(item.ID)) > 0 {
		return false
	}
	if epic := g.containingEpic(item.ID); epic != nil && epic.Status == types.StatusBlocked {
		return false
	}
	return true
}

func (g *graph) children(parentID string) []*types.WorkItem {
	var out []*types.WorkItem
	for _, d := range g.incoming[parentID] {
		if d.Type != types.DepParentChild {
			continue
		}
		if item, ok := g.items[d.FromID]; ok {
			out = append(out, item)
		}
	}
	return out
}

func (g *graph) projectItems(projectID string) []*types.WorkItem {
	var out []*types.WorkItem
	for _, item := range g.items {
		if item.ProjectID == projectID {
			out = append(out, item)
		}
	}
	return out
}
