package decision

import (
	"context"
	"time"
)

// AutoPolicy answers immediately from a per-policy-key table. Keys not in
// the table get the request's default.
type AutoPolicy struct {
	Approve map[string]bool
}

var _ Evaluator = (*AutoPolicy)(nil)

func (p *AutoPolicy) Evaluate(_ context.Context, req Request) (Decision, error) {
	approved, ok := p.Approve[req.PolicyKey]
	if !ok {
		return Default(req, "policy"), nil
	}
	return Decision{
		Approved:    approved,
		Choice:      req.ChoiceFor(approved),
		RespondedBy: "policy",
		Rationale:   "configured for " + req.PolicyKey,
		RespondedAt: time.Now().UTC(),
	}, nil
}
