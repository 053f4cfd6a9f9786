// Package gateconfig loads and validates the YAML gateway configuration:
// the upstream to wrap, the operation registry, group hierarchy and
// elicitation settings.
package gateconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/mcpgate/pkg/registry"
)

// Config is the top-level gateway configuration.
type Config struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Instructions string            `yaml:"instructions"`
	Upstream     UpstreamConfig    `yaml:"upstream"`
	Operations   []OperationConfig `yaml:"operations"`
	Groups       GroupsConfig      `yaml:"groups"`
	Elicitation  ElicitationConfig `yaml:"elicitation"`
}

// UpstreamConfig describes the wrapped tool server. Exactly one of
// Command or URL must be set: Command spawns a stdio subprocess, URL
// connects over SSE.
type UpstreamConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
}

// OperationConfig declares gate policy for one upstream tool.
type OperationConfig struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	RootTemplate string            `yaml:"root_template"`
	Group        string            `yaml:"group"`
	Elicit       map[string]string `yaml:"elicit"`
}

// GroupConfig declares one node of the group hierarchy.
type GroupConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Parent      string `yaml:"parent"`
	Initial     bool   `yaml:"initial"`
}

// GroupsConfig holds the hierarchy plus the exposure ceiling.
type GroupsConfig struct {
	MaxTools       int           `yaml:"max_tools"`
	CountMetaTools bool          `yaml:"count_meta_tools"`
	Definitions    []GroupConfig `yaml:"definitions"`
}

// ElicitationConfig holds confirmation settings.
type ElicitationConfig struct {
	Timeout string `yaml:"timeout"` // Duration string (e.g. "30s", "5m"). Empty uses the default.
}

// Load reads a YAML file and returns a validated Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are
// expanded before parsing, so tokens passed to the upstream command can
// live in the environment rather than in the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("gateconfig: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("gateconfig: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the parts the registry builder does not cover: the
// upstream endpoint and the elicitation timeout.
func (c Config) Validate() error {
	switch {
	case c.Upstream.Command == "" && c.Upstream.URL == "":
		return fmt.Errorf("gateconfig: upstream requires a command or a url")
	case c.Upstream.Command != "" && c.Upstream.URL != "":
		return fmt.Errorf("gateconfig: upstream command and url are mutually exclusive")
	}

	if _, err := c.ElicitTimeout(); err != nil {
		return err
	}

	return nil
}

// ElicitTimeout parses the configured elicitation timeout. Zero means
// the caller should apply its default.
func (c Config) ElicitTimeout() (time.Duration, error) {
	if c.Elicitation.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.Elicitation.Timeout)
	if err != nil {
		return 0, fmt.Errorf("gateconfig: parse elicitation timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("gateconfig: elicitation timeout must be positive, got %s", d)
	}

	return d, nil
}

// Registry builds the operation registry declared by the config. All
// structural validation (duplicate names, unknown groups, hierarchy
// cycles, template syntax) happens in registry.New.
func (c Config) Registry() (*registry.Registry, error) {
	descriptors := make([]registry.Descriptor, 0, len(c.Operations))
	for _, op := range c.Operations {
		descriptors = append(descriptors, registry.Descriptor{
			Name:         op.Name,
			Description:  op.Description,
			RootTemplate: op.RootTemplate,
			Group:        op.Group,
			Elicit:       op.Elicit,
		})
	}

	groups := make([]registry.Group, 0, len(c.Groups.Definitions))
	for _, g := range c.Groups.Definitions {
		groups = append(groups, registry.Group{
			Name:        g.Name,
			Description: g.Description,
			Parent:      g.Parent,
			Initial:     g.Initial,
		})
	}

	return registry.New(descriptors, groups)
}
