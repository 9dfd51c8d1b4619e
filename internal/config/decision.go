package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Decision config keys
const (
	KeyDecisionMode        = "decision.mode"
	KeyDecisionDir         = "decision.dir"
	KeyDecisionTimeout     = "decision.timeout"
	KeyDecisionAutoApprove = "decision.auto-approve"
)

// Decision modes
const (
	DecisionModeAuto   = "auto"
	DecisionModePrompt = "prompt"
	DecisionModeFile   = "file"
)

// DecisionConfig selects how escalations reach a human.
type DecisionConfig struct {
	// Mode is auto, prompt or file.
	Mode string
	// Dir holds request/response files in file mode.
	Dir string
	// Timeout bounds a pending decision; zero waits indefinitely.
	Timeout time.Duration
	// AutoApprove lists policy keys the auto policy approves.
	AutoApprove []string
}

func registerDecisionDefaults(v *viper.Viper) {
	v.SetDefault(KeyDecisionMode, DecisionModeAuto)
	v.SetDefault(KeyDecisionDir, "")
	v.SetDefault(KeyDecisionTimeout, "0s")
	v.SetDefault(KeyDecisionAutoApprove, []string{})
}

func decisionFromViper(v *viper.Viper) DecisionConfig {
	dc := DecisionConfig{
		Mode:        v.GetString(KeyDecisionMode),
		Dir:         v.GetString(KeyDecisionDir),
		Timeout:     v.GetDuration(KeyDecisionTimeout),
		AutoApprove: v.GetStringSlice(KeyDecisionAutoApprove),
	}
	if dc.Dir == "" {
		dc.Dir = filepath.Join(v.GetString(KeyDataDir), "decisions")
	}
	return dc
}

// Validate checks the decision mode.
func (d DecisionConfig) Validate() error {
	switch d.Mode {
	case DecisionModeAuto, DecisionModePrompt, DecisionModeFile:
	default:
		return fmt.Errorf("%s must be one of auto, prompt, file (got %q)", KeyDecisionMode, d.Mode)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("%s must not be negative", KeyDecisionTimeout)
	}
	return nil
}
