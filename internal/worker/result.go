package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ResultStatus is the outcome a worker declares.
type ResultStatus string

const (
	StatusSuccess  ResultStatus = "success"
	StatusFailure  ResultStatus = "failure"
	StatusApproved ResultStatus = "approved"
	StatusRejected ResultStatus = "rejected"
)

// IsValid reports whether s is a known status.
func (s ResultStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusApproved, StatusRejected:
		return true
	}
	return false
}

var (
	// ErrNoResult means the worker exited without writing a result record.
	ErrNoResult = errors.New("worker wrote no result")
	// ErrInvalidResult means the result record could not be understood.
	ErrInvalidResult = errors.New("invalid worker result")
)

// Issue is one finding reported by a worker, usually a reviewer.
type Issue struct {
	Severity string `json:"severity,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// UnmarshalJSON accepts either an object or a bare string.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = Issue{Message: s}
		return nil
	}
	type plain Issue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*i = Issue(p)
	return nil
}

func (i Issue) String() string {
	loc := i.File
	if loc != "" && i.Line > 0 {
		loc = fmt.Sprintf("%s:%d", i.File, i.Line)
	}
	switch {
	case loc != "" && i.Severity != "":
		return fmt.Sprintf("[%s] %s: %s", i.Severity, loc, i.Message)
	case loc != "":
		return loc + ": " + i.Message
	case i.Severity != "":
		return "[" + i.Severity + "] " + i.Message
	}
	return i.Message
}

// Result is the structured record a worker writes before exiting.
type Result struct {
	Status  ResultStatus `json:"status"`
	Summary string       `json:"summary"`
	Issues  []Issue      `json:"issues,omitempty"`
}

// Feedback renders the summary and issues as reviewer feedback text.
func (r Result) Feedback() string {
	out := r.Summary
	for _, is := range r.Issues {
		if out != "" {
			out += "\n"
		}
		out += "- " + is.String()
	}
	return out
}

// ReadResult loads and validates the result record at path.
func ReadResult(path string) (Result, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the orchestrator
	if os.IsNotExist(err) {
		return Result{}, fmt.Errorf("%w: %s", ErrNoResult, path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if !r.Status.IsValid() {
		return Result{}, fmt.Errorf("%w: unknown status %q", ErrInvalidResult, r.Status)
	}
	return r, nil
}

// WriteResult writes r to path. Used by test workers and tooling.
func WriteResult(path string, r Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
