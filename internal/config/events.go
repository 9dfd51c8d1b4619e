package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Event config keys
const (
	KeyEventsJournal = "events.journal"
	KeyEventsHooks   = "events.hooks"
)

// EventsConfig configures build-loop event delivery.
type EventsConfig struct {
	// Journal is the JSONL event journal; "-" disables it.
	Journal string
	Hooks   []HookConfig
}

// HookConfig is a shell command run for matching events.
type HookConfig struct {
	ID       string   `mapstructure:"id"`
	Command  string   `mapstructure:"command"`
	Events   []string `mapstructure:"events"`
	Priority int      `mapstructure:"priority"`
	Shell    string   `mapstructure:"shell"`
}

func registerEventDefaults(v *viper.Viper) {
	v.SetDefault(KeyEventsJournal, "")
}

func eventsFromViper(v *viper.Viper) (EventsConfig, error) {
	ec := EventsConfig{Journal: v.GetString(KeyEventsJournal)}
	switch ec.Journal {
	case "":
		ec.Journal = filepath.Join(v.GetString(KeyDataDir), "events.jsonl")
	case "-":
		ec.Journal = ""
	}
	if v.IsSet(KeyEventsHooks) {
		if err := v.UnmarshalKey(KeyEventsHooks, &ec.Hooks); err != nil {
			return ec, fmt.Errorf("parse %s: %w", KeyEventsHooks, err)
		}
	}
	return ec, nil
}
