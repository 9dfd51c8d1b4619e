// Package config loads forge configuration from, in increasing precedence:
// built-in defaults, config.yaml in the data directory (or --config),
// FORGE_* environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FORGE_LOG_LEVEL.
const EnvPrefix = "FORGE"

// DefaultDataDir holds the graph, archive and config.yaml.
const DefaultDataDir = ".forge"

// Config keys
const (
	KeyDataDir = "data-dir"
	KeyActor   = "actor"
	KeyJSON    = "json"

	KeyStoreFile          = "store.file"
	KeyStoreFlushDebounce = "store.flush-debounce"
	KeyStoreIDPrefix      = "store.id-prefix"

	KeyLogLevel = "log.level"
	KeyLogFile  = "log.file"

	KeyRetryLimit        = "orchestrator.retry-limit"
	KeyPollInterval      = "orchestrator.poll-interval"
	KeyRequeueDelay      = "orchestrator.requeue-delay"
	KeyInactivityTimeout = "orchestrator.inactivity-timeout"
	KeyIdentity          = "orchestrator.identity"
	KeyBaseBranch        = "orchestrator.base-branch"
	KeyRepoDir           = "orchestrator.repo-dir"
	KeyWorkDir           = "orchestrator.work-dir"
	KeyTestCommand       = "orchestrator.test-command"
	KeyDeployCommand     = "orchestrator.deploy-command"

	KeyWorkerProfiles = "workers.profiles"
)

// Config is the typed view of a loaded configuration.
type Config struct {
	DataDir string
	Actor   string
	JSON    bool

	Store        StoreConfig
	Log          LogConfig
	Orchestrator OrchestratorConfig
	Workers      WorkersConfig
	Decision     DecisionConfig
	Events       EventsConfig

	// File is the config file that was read, if any.
	File string
}

// StoreConfig configures the task graph store.
type StoreConfig struct {
	File          string
	FlushDebounce time.Duration
	IDPrefix      string
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
	File  string
}

// OrchestratorConfig configures the build loop.
type OrchestratorConfig struct {
	RetryLimit        int
	PollInterval      time.Duration
	RequeueDelay      time.Duration
	InactivityTimeout time.Duration
	Identity          string
	BaseBranch        string
	RepoDir           string
	WorkDir           string
	TestCommand       string
	DeployCommand     string
}

// WorkersConfig locates the agent profile catalog.
type WorkersConfig struct {
	Profiles string
}

// New returns a viper instance with defaults and environment binding
// registered. Callers bind flags to it, then call Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDataDir, DefaultDataDir)
	v.SetDefault(KeyActor, defaultActor())
	v.SetDefault(KeyJSON, false)

	v.SetDefault(KeyStoreFile, "graph.json")
	v.SetDefault(KeyStoreFlushDebounce, "50ms")
	v.SetDefault(KeyStoreIDPrefix, "fg")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")

	v.SetDefault(KeyRetryLimit, 3)
	v.SetDefault(KeyPollInterval, "5s")
	v.SetDefault(KeyRequeueDelay, "10s")
	v.SetDefault(KeyInactivityTimeout, "10m")
	v.SetDefault(KeyIdentity, "forge-agent")
	v.SetDefault(KeyBaseBranch, "main")
	v.SetDefault(KeyRepoDir, ".")
	v.SetDefault(KeyWorkDir, "")
	v.SetDefault(KeyTestCommand, "")
	v.SetDefault(KeyDeployCommand, "")

	v.SetDefault(KeyWorkerProfiles, "")

	registerDecisionDefaults(v)
	registerEventDefaults(v)
	return v
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "forge"
}

// Load reads the config file (explicit path, else <data-dir>/config.yaml when
// present) into v and returns the typed configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		candidate := filepath.Join(v.GetString(KeyDataDir), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			file = candidate
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	events, err := eventsFromViper(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir: v.GetString(KeyDataDir),
		Actor:   v.GetString(KeyActor),
		JSON:    v.GetBool(KeyJSON),
		Store: StoreConfig{
			File:          v.GetString(KeyStoreFile),
			FlushDebounce: v.GetDuration(KeyStoreFlushDebounce),
			IDPrefix:      v.GetString(KeyStoreIDPrefix),
		},
		Log: LogConfig{
			Level: v.GetString(KeyLogLevel),
			File:  v.GetString(KeyLogFile),
		},
		Orchestrator: OrchestratorConfig{
			RetryLimit:        v.GetInt(KeyRetryLimit),
			PollInterval:      v.GetDuration(KeyPollInterval),
			RequeueDelay:      v.GetDuration(KeyRequeueDelay),
			InactivityTimeout: v.GetDuration(KeyInactivityTimeout),
			Identity:          v.GetString(KeyIdentity),
			BaseBranch:        v.GetString(KeyBaseBranch),
			RepoDir:           v.GetString(KeyRepoDir),
			WorkDir:           v.GetString(KeyWorkDir),
			TestCommand:       v.GetString(KeyTestCommand),
			DeployCommand:     v.GetString(KeyDeployCommand),
		},
		Workers:  WorkersConfig{Profiles: v.GetString(KeyWorkerProfiles)},
		Decision: decisionFromViper(v),
		Events:   events,
		File:     file,
	}
	if cfg.Orchestrator.WorkDir == "" {
		cfg.Orchestrator.WorkDir = filepath.Join(cfg.DataDir, "work")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.File == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyStoreFile))
	}
	if c.Orchestrator.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must be >= 0 (got %d)", KeyRetryLimit, c.Orchestrator.RetryLimit))
	}
	if c.Orchestrator.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyPollInterval))
	}
	if c.Orchestrator.InactivityTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyInactivityTimeout))
	}
	if err := c.Decision.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StorePath is the durable graph file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, c.Store.File)
}

// ArchivePath is the session archive database.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}
