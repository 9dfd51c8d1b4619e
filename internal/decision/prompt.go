package decision

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ConfirmFunc asks a yes/no question; value holds the default on entry.
type ConfirmFunc func(ctx context.Context, title, description, affirmative, negative string, value *bool) error

// Prompt asks on the controlling terminal. Without a terminal it falls back
// to the request's default.
type Prompt struct {
	// IsTerminal defaults to checking stdin.
	IsTerminal func() bool
	// Confirm defaults to a huh confirm form.
	Confirm ConfirmFunc
}

var _ Evaluator = (*Prompt)(nil)

func (p *Prompt) Evaluate(ctx context.Context, req Request) (Decision, error) {
	req = req.Normalize(time.Now())
	isTTY := p.IsTerminal
	if isTTY == nil {
		isTTY = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	if !isTTY() {
		return Default(req, "prompt"), nil
	}
	confirm := p.Confirm
	if confirm == nil {
		confirm = huhConfirm
	}

	approved := req.DefaultApprove
	title := "Escalation: " + req.PolicyKey
	if req.ItemID != "" {
		title += " (" + req.ItemID + ")"
	}
	if err := confirm(ctx, title, req.Description, req.Options[0], req.Options[1], &approved); err != nil {
		return Default(req, "prompt"), err
	}
	return Decision{
		Approved:    approved,
		Choice:      req.ChoiceFor(approved),
		RespondedBy: "terminal",
		RespondedAt: time.Now().UTC(),
	}, nil
}

func huhConfirm(ctx context.Context, title, description, affirmative, negative string, value *bool) error {
	return huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative(affirmative).
			Negative(negative).
			Value(value),
	)).RunWithContext(ctx)
}
