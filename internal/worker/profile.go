package worker

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNoProfile is returned when the catalog has no profile for a request.
var ErrNoProfile = errors.New("no worker profile")

// DefaultComplexity is assumed for items without an explicit complexity.
const DefaultComplexity = 5

// Profile describes how to launch one kind of agent.
type Profile struct {
	Name string `toml:"-"`
	Role Role   `toml:"role"`
	// Command is run with sh -c. The prompt and result locations are passed in
	// the environment.
	Command       string            `toml:"command"`
	Model         string            `toml:"model"`
	MinComplexity int               `toml:"min_complexity"`
	MaxComplexity int               `toml:"max_complexity"`
	Env           map[string]string `toml:"env"`
	Default       bool              `toml:"default"`
}

// Covers reports whether complexity falls inside the profile's range.
func (p Profile) Covers(complexity int) bool {
	return complexity >= p.MinComplexity && complexity <= p.MaxComplexity
}

// Environ renders Env as KEY=value pairs in key order.
func (p Profile) Environ() []string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+p.Env[k])
	}
	return out
}

// Catalog is a set of named profiles.
type Catalog struct {
	Profiles map[string]Profile `toml:"profiles"`
}

// LoadProfiles reads a TOML catalog such as:
//
//	[profiles.fast]
//	role = "coder"
//	command = "my-agent --prompt \"$FORGE_PROMPT\" --result \"$FORGE_RESULT\""
//	max_complexity = 4
func LoadProfiles(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	for name, p := range c.Profiles {
		p.Name = name
		if p.MinComplexity == 0 {
			p.MinComplexity = 1
		}
		if p.MaxComplexity == 0 {
			p.MaxComplexity = 10
		}
		c.Profiles[name] = p
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("profiles %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks every profile.
func (c *Catalog) Validate() error {
	var errs []error
	for _, name := range c.names() {
		p := c.Profiles[name]
		if p.Role != RoleCoder && p.Role != RoleReviewer {
			errs = append(errs, fmt.Errorf("profile %s: role must be %q or %q", name, RoleCoder, RoleReviewer))
		}
		if strings.TrimSpace(p.Command) == "" {
			errs = append(errs, fmt.Errorf("profile %s: command is required", name))
		}
		if p.MinComplexity > p.MaxComplexity {
			errs = append(errs, fmt.Errorf("profile %s: min_complexity > max_complexity", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) names() []string {
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForComplexity picks the profile for role and item complexity. The
// narrowest covering range wins, name breaks ties. Without a covering
// profile, the role's default profile is used.
func (c *Catalog) ForComplexity(role Role, complexity *int) (Profile, error) {
	n := DefaultComplexity
	if complexity != nil {
		n = *complexity
	}
	var best *Profile
	var fallback *Profile
	for _, name := range c.names() {
		p := c.Profiles[name]
		if p.Role != role {
			continue
		}
		if p.Default && fallback == nil {
			fallback = &p
		}
		if !p.Covers(n) {
			continue
		}
		if best == nil || span(p) < span(*best) {
			best = &p
		}
	}
	if best != nil {
		return *best, nil
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Profile{}, fmt.Errorf("%w for role %s, complexity %d", ErrNoProfile, role, n)
}

func span(p Profile) int { return p.MaxComplexity - p.MinComplexity }
