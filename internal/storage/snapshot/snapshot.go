// Package snapshot implements the durable on-disk form of the task graph:
// a checksummed JSON envelope written with a tmp, .bak, rename protocol so a
// crash at any point leaves at least one complete file behind.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

// Format identifies forge graph files.
const Format = "forge-graph"

// Version is the current envelope version.
const Version = 1

// Payload is the full graph state captured by one snapshot.
type Payload struct {
	Items        []*types.WorkItem   `json:"items"`
	Dependencies []*types.Dependency `json:"dependencies"`
	NextSeq      int64               `json:"next_seq"`
}

// IsEmpty reports whether the payload holds no items.
func (p *Payload) IsEmpty() bool {
	return p == nil || len(p.Items) == 0
}

type envelope struct {
	Format    string          `json:"format"`
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	WrittenAt time.Time       `json:"written_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serializes the payload into a checksummed envelope.
func Encode(p *Payload, now time.Time) ([]byte, error) {
	if p.Items == nil {
		p.Items = []*types.WorkItem{}
	}
	if p.Dependencies == nil {
		p.Dependencies = []*types.Dependency{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	data, err := json.Marshal(envelope{
		Format:    Format,
		Version:   Version,
		Checksum:  hex.EncodeToString(sum[:]),
		WrittenAt: now.UTC(),
		Payload:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode validates and deserializes an envelope. Any integrity failure
// is reported as storage.ErrCorruptPersistence.
func Decode(data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", storage.ErrCorruptPersistence)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorruptPersistence, err)
	}
	if env.Format != Format {
		return nil, fmt.Errorf("%w: unexpected format %q", storage.ErrCorruptPersistence, env.Format)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", storage.ErrCorruptPersistence, env.Version)
	}
	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", storage.ErrCorruptPersistence)
	}
	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", storage.ErrCorruptPersistence, err)
	}
	for _, item := range p.Items {
		if item == nil || item.ID == "" {
			return nil, fmt.Errorf("%w: item without id", storage.ErrCorruptPersistence)
		}
	}
	return &p, nil
}
