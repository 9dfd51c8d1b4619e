package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// File suffixes used by FileResponder.
const (
	RequestSuffix  = ".request.json"
	ResponseSuffix = ".response.json"
)

// ErrTimeout is returned with the default decision when nobody responded in time.
var ErrTimeout = errors.New("decision timed out")

// FileResponder publishes each request as <dir>/<id>.request.json and waits
// for <dir>/<id>.response.json. Another process (forge decide) writes the
// response. A zero Timeout waits indefinitely.
type FileResponder struct {
	Dir     string
	Timeout time.Duration
	Log     zerolog.Logger
}

var _ Evaluator = (*FileResponder)(nil)

// RequestPath returns the request file for id.
func RequestPath(dir, id string) string { return filepath.Join(dir, id+RequestSuffix) }

// ResponsePath returns the response file for id.
func ResponsePath(dir, id string) string { return filepath.Join(dir, id+ResponseSuffix) }

// Evaluate blocks until a response arrives, the timeout passes, or ctx ends.
// On timeout or cancellation the default decision is returned with an error.
func (f *FileResponder) Evaluate(ctx context.Context, req Request) (Decision, error) {
	req = req.Normalize(time.Now())
	if err := os.MkdirAll(f.Dir, 0o750); err != nil {
		return Default(req, "file"), fmt.Errorf("decision dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Default(req, "file"), fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(f.Dir); err != nil {
		return Default(req, "file"), fmt.Errorf("watch %s: %w", f.Dir, err)
	}

	if err := writeJSONAtomic(RequestPath(f.Dir, req.ID), req); err != nil {
		return Default(req, "file"), err
	}
	log := f.Log.With().Str("decision", req.ID).Str("policy", req.PolicyKey).Logger()
	log.Info().Str("request", RequestPath(f.Dir, req.ID)).Msg("waiting for decision")

	respPath := ResponsePath(f.Dir, req.ID)
	// A response written before the watch started would otherwise be missed.
	if d, ok := readResponse(respPath); ok {
		f.cleanup(req.ID)
		return d, nil
	}

	var timeout <-chan time.Time
	if f.Timeout > 0 {
		t := time.NewTimer(f.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return Default(req, "file"), ctx.Err()
		case <-timeout:
			log.Warn().Dur("timeout", f.Timeout).Msg("decision timed out, using default")
			f.cleanup(req.ID)
			return Default(req, "file"), ErrTimeout
		case ev, ok := <-watcher.Events:
			if !ok {
				return Default(req, "file"), fmt.Errorf("watcher closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(respPath) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if d, ok := readResponse(respPath); ok {
				log.Info().Bool("approved", d.Approved).Str("by", d.RespondedBy).Msg("decision received")
				f.cleanup(req.ID)
				return d, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return Default(req, "file"), fmt.Errorf("watcher closed")
			}
			log.Warn().Err(err).Msg("decision watcher error")
		}
	}
}

func (f *FileResponder) cleanup(id string) {
	_ = os.Remove(RequestPath(f.Dir, id))
	_ = os.Remove(ResponsePath(f.Dir, id))
}

// readResponse returns false while the file is missing or incomplete.
func readResponse(path string) (Decision, bool) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is inside the decision dir
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

// Respond answers a pending request. It fails when no such request exists.
func Respond(dir, id string, approved bool, by, rationale string) (Decision, error) {
	req, err := ReadRequest(dir, id)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		Approved:    approved,
		Choice:      req.ChoiceFor(approved),
		RespondedBy: by,
		Rationale:   rationale,
		RespondedAt: time.Now().UTC(),
	}
	if err := writeJSONAtomic(ResponsePath(dir, id), d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// ReadRequest loads a pending request.
func ReadRequest(dir, id string) (*Request, error) {
	data, err := os.ReadFile(RequestPath(dir, id)) // #nosec G304 -- path is inside the decision dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no pending decision %s", id)
		}
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", id, err)
	}
	return &req, nil
}

// Pending lists requests that have no response yet, oldest first.
func Pending(dir string) ([]*Request, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Request
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), RequestSuffix)
		if !ok {
			continue
		}
		if _, err := os.Stat(ResponsePath(dir, id)); err == nil {
			continue
		}
		req, err := ReadRequest(dir, id)
		if err != nil {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
