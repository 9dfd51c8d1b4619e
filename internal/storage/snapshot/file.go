package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/beadforge/forge/internal/storage"
)

// Suffixes of the sibling files used by the write protocol.
const (
	BackupSuffix = ".bak"
	TempSuffix   = ".tmp"
)

// WriteOptions controls a single Write.
type WriteOptions struct {
	// AllowEmpty permits replacing a non-empty durable file with an empty graph.
	AllowEmpty bool
	Now        time.Time
}

// Write persists p at path:
//
//  1. write path.tmp and fsync it
//  2. rename path to path.bak
//  3. rename path.tmp to path
//  4. fsync the directory
func Write(path string, p *Payload, opts WriteOptions) error {
	if p.IsEmpty() && !opts.AllowEmpty {
		if existing, err := readCandidate(path); err == nil && !existing.IsEmpty() {
			return fmt.Errorf("%s holds %d items: %w", path, len(existing.Items), storage.ErrEmptyGraphGuard)
		}
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	data, err := Encode(p, opts.Now)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + TempSuffix
	if err := writeSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+BackupSuffix); err != nil {
			return fmt.Errorf("failed to rotate backup: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace graph file: %w", err)
	}
	syncDir(dir)
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry so the renames survive power loss.
// Not every platform supports fsync on a directory; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- store directory
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Rejection records a candidate file that existed but failed validation.
type Rejection struct {
	Path string
	Err  error
}

// LoadResult describes where a Load found its data.
type LoadResult struct {
	Payload *Payload
	// Source is the path the payload came from, or "" when starting empty.
	Source   string
	Rejected []Rejection
}

// Candidates returns the recovery order for path.
func Candidates(path string) []string {
	return []string{path, path + BackupSuffix, path + TempSuffix}
}

// Load returns the first valid candidate among path, path.bak and path.tmp.
// When none is valid the result carries an empty payload and every
// rejection; only I/O errors other than absence are returned as errors.
func Load(path string) (*LoadResult, error) {
	res := &LoadResult{}
	for _, candidate := range Candidates(path) {
		p, err := readCandidate(candidate)
		switch {
		case err == nil:
			res.Payload = p
			res.Source = candidate
			return res, nil
		case errors.Is(err, fs.ErrNotExist):
			continue
		case errors.Is(err, storage.ErrCorruptPersistence):
			res.Rejected = append(res.Rejected, Rejection{Path: candidate, Err: err})
		default:
			return nil, fmt.Errorf("read %s: %w", candidate, err)
		}
	}
	res.Payload = &Payload{}
	return res, nil
}

func readCandidate(path string) (*Payload, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- store-controlled path
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
