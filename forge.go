// Package forge provides a minimal public API for programs that want to read
// or drive a forge task graph without going through the CLI.
//
// Only the essential types and an Open function are exported. Everything
// else lives under internal/.
package forge

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/beadforge/forge/internal/config"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/storage/memory"
	"github.com/beadforge/forge/internal/types"
)

// Core types for working with items
type (
	WorkItem    = types.WorkItem
	Dependency  = types.Dependency
	Status      = types.Status
	ItemKind    = types.ItemKind
	ItemFilter  = types.ItemFilter
	BlockedItem = types.BlockedItem
)

// Status constants
const (
	StatusOpen       = types.StatusOpen
	StatusInProgress = types.StatusInProgress
	StatusClosed     = types.StatusClosed
	StatusBlocked    = types.StatusBlocked
)

// ItemKind constants
const (
	KindBug     = types.KindBug
	KindFeature = types.KindFeature
	KindTask    = types.KindTask
	KindEpic    = types.KindEpic
	KindChore   = types.KindChore
)

// Dependency type constants
const (
	DepBlocks         = types.DepBlocks
	DepParentChild    = types.DepParentChild
	DepDiscoveredFrom = types.DepDiscoveredFrom
)

// Storage is the task graph store interface.
type Storage = storage.Storage

// CreateOptions controls id allocation for CreateItem.
type CreateOptions = storage.CreateOptions

// Open opens the graph kept in dataDir (graph.json), creating the directory
// if needed. The store holds an exclusive lock until Close.
func Open(ctx context.Context, dataDir string) (Storage, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, err
	}
	store, err := memory.Open(ctx, memory.Config{
		Path:   filepath.Join(dataDir, "graph.json"),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// FindDataDir walks up from the working directory looking for a .forge
// directory. FORGE_DATA_DIR wins when set. Returns "" when none is found.
func FindDataDir() string {
	if d := os.Getenv(config.EnvPrefix + "_DATA_DIR"); d != "" {
		return d
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, config.DefaultDataDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
