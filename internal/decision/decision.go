// Package decision resolves escalations that need a human call. An
// Evaluator may answer immediately (policy), interactively (terminal), or
// asynchronously (a response file written later by another process).
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Request asks for a yes/no call. Options[0] is the approving choice and
// Options[1] the declining one.
type Request struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	ItemID         string    `json:"item_id,omitempty"`
	PolicyKey      string    `json:"policy_key"`
	Description    string    `json:"description"`
	Options        []string  `json:"options"`
	DefaultApprove bool      `json:"default_approve"`
	CreatedAt      time.Time `json:"created_at"`
}

// Decision is the answer to a Request.
type Decision struct {
	Approved    bool      `json:"approved"`
	Choice      string    `json:"choice,omitempty"`
	RespondedBy string    `json:"responded_by,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
	Defaulted   bool      `json:"defaulted,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

// Evaluator resolves a Request. Implementations may block until a human answers.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, req Request) (Decision, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Normalize fills an id, timestamp and default option labels.
func (r Request) Normalize(now time.Time) Request {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	if len(r.Options) < 2 {
		r.Options = []string{"approve", "decline"}
	}
	return r
}

// ChoiceFor returns the option label matching approved.
func (r Request) ChoiceFor(approved bool) string {
	if len(r.Options) < 2 {
		if approved {
			return "approve"
		}
		return "decline"
	}
	if approved {
		return r.Options[0]
	}
	return r.Options[1]
}

// Default is the decision taken when nobody answers.
func Default(req Request, by string) Decision {
	return Decision{
		Approved:    req.DefaultApprove,
		Choice:      req.ChoiceFor(req.DefaultApprove),
		RespondedBy: by,
		Defaulted:   true,
		RespondedAt: time.Now().UTC(),
	}
}
