// Package memory implements the task graph store: an in-memory
// copy-on-write graph with serialized writes, lock-free reads and
// debounced, crash-safe persistence to a single snapshot file.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/beadforge/forge/internal/idgen"
	"github.com/beadforge/forge/internal/lockfile"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/storage/snapshot"
	"github.com/beadforge/forge/internal/types"
)

// DefaultFlushDebounce coalesces bursts of mutations into one write.
const DefaultFlushDebounce = 50 * time.Millisecond

// Config configures a Store.
type Config struct {
	// Path is the durable graph file. Empty keeps the graph in memory only.
	Path          string
	IDPrefix      string
	IDLength      int
	FlushDebounce time.Duration
	Logger        zerolog.Logger
	// Now is injectable for tests.
	Now func() time.Time
}

// Store is the task graph store. Create with New and call Init before use.
type Store struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex // serializes mutations
	state atomic.Pointer[graph]

	initialized atomic.Bool
	closed      atomic.Bool
	// deletedSinceLoad lifts the empty-graph guard once this store has
	// deleted items itself.
	deletedSinceLoad atomic.Bool

	flusher *FlushManager
	lock    *lockfile.Lock
}

var _ storage.Storage = (*Store)(nil)

// New constructs an uninitialized store.
func New(cfg Config) *Store {
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = idgen.DefaultPrefix
	}
	if cfg.IDLength == 0 {
		cfg.IDLength = idgen.DefaultLength
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = DefaultFlushDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Store{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}
	s.state.Store(emptyGraph())
	return s
}

// Open is New followed by Init.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	s := New(cfg)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init takes the cross-process lock, loads the newest valid snapshot and
// starts the flush manager.
func (s *Store) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized.Load() {
		return nil
	}
	if s.cfg.Path != "" {
		lock, err := lockfile.Acquire(s.cfg.Path + ".lock")
		if err != nil {
			if errors.Is(err, lockfile.ErrLockBusy) {
				return fmt.Errorf("%s: %w: %v", s.cfg.Path, storage.ErrLocked, err)
			}
			return fmt.Errorf("lock %s: %w", s.cfg.Path, err)
		}

		res, err := snapshot.Load(s.cfg.Path)
		if err != nil {
			_ = lock.Release()
			return fmt.Errorf("load %s: %w", s.cfg.Path, err)
		}
		for _, r := range res.Rejected {
			s.logger.Warn().Err(r.Err).Str("path", r.Path).Msg("skipping invalid graph file")
		}
		if res.Source == "" && len(res.Rejected) > 0 {
			s.logger.Error().Int("rejected", len(res.Rejected)).Str("path", s.cfg.Path).
				Msg("every graph file candidate is invalid, starting from an empty graph")
		}
		if res.Source != "" {
			s.logger.Debug().Str("source", res.Source).Int("items", len(res.Payload.Items)).Msg("graph loaded")
		}

		s.state.Store(graphFromPayload(res.Payload))
		s.lock = lock
		s.flusher = NewFlushManager(s.cfg.FlushDebounce, s.writeSnapshot, s.logger)
	}
	s.initialized.Store(true)
	return nil
}

func graphFromPayload(p *snapshot.Payload) *graph {
	items := make(map[string]*types.WorkItem, len(p.Items))
	var maxSeq int64
	for _, item := range p.Items {
		items[item.ID] = item
		maxSeq = max(maxSeq, item.Seq)
	}
	deps := make(map[types.EdgeKey]*types.Dependency, len(p.Dependencies))
	for _, d := range p.Dependencies {
		if _, ok := items[d.FromID]; !ok {
			continue
		}
		if _, ok := items[d.ToID]; !ok {
			continue
		}
		deps[d.Key()] = d
	}
	return buildGraph(items, deps, max(p.NextSeq, maxSeq))
}

func (g *graph) payload() *snapshot.Payload {
	p := &snapshot.Payload{
		Items:        make([]*types.WorkItem, 0, len(g.items)),
		Dependencies: make([]*types.Dependency, 0, len(g.deps)),
		NextSeq:      g.nextSeq,
	}
	for _, item := range g.items {
		p.Items = append(p.Items, item)
	}
	types.SortItems(p.Items, []types.SortOption{{Field: types.SortFieldCreated, Direction: types.SortAsc}})
	for _, d := range g.deps {
		p.Dependencies = append(p.Dependencies, d)
	}
	sortEdges(p.Dependencies)
	return p
}

// writeSnapshot runs on the flush manager goroutine.
func (s *Store) writeSnapshot() error {
	g := s.state.Load()
	err := snapshot.Write(s.cfg.Path, g.payload(), snapshot.WriteOptions{
		AllowEmpty: s.deletedSinceLoad.Load(),
		Now:        s.cfg.Now(),
	})
	if err != nil {
		return fmt.Errorf("flush %s: %w", s.cfg.Path, err)
	}
	return nil
}

func (s *Store) checkReady() error {
	if s.closed.Load() {
		return fmt.Errorf("store closed: %w", storage.ErrNotInitialized)
	}
	if !s.initialized.Load() {
		return storage.ErrNotInitialized
	}
	return nil
}

// view returns the latest committed graph for lock-free reads.
func (s *Store) view() (*graph, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	return s.state.Load(), nil
}

// mutate runs fn against a private copy of the graph under the write lock
// and publishes the result. The flush is enqueued before the lock is released.
func (s *Store) mutate(fn func(t *txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return err
	}
	t := s.state.Load().begin()
	if err := fn(t); err != nil {
		return err
	}
	if !t.changed {
		return nil
	}
	s.state.Store(t.commit())
	if s.flusher != nil {
		s.flusher.MarkDirty()
	}
	return nil
}

// Flush forces a synchronous write of any pending changes.
func (s *Store) Flush(_ context.Context) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if s.flusher == nil {
		return nil
	}
	return s.flusher.FlushNow()
}

// Close performs the final flush and releases the file lock.
func (s *Store) Close() error {
	// Taking the write lock guarantees no mutation is between commit and
	// MarkDirty when the final flush runs.
	s.mu.Lock()
	first := s.closed.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !first {
		return nil
	}
	var err error
	if s.flusher != nil {
		err = s.flusher.Shutdown()
	}
	if s.lock != nil {
		if lerr := s.lock.Release(); err == nil {
			err = lerr
		}
	}
	return err
}

// Path returns the durable graph file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

func (s *Store) now() time.Time {
	return s.cfg.Now().UTC()
}
