// Package config loads the agent's YAML configuration and applies defaults.
// The GitHub OAuth token is never read from the file; it comes from the
// environment or the editor plugin.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DefaultModel         = "gpt-4o"
	DefaultMaxIterations = 5
	DefaultTimeout       = 2 * time.Minute
	DefaultListenAddr    = "127.0.0.1:4355"

	githubTokenEnv = "GITHUB_COPILOT_TOKEN"
)

// Config is the full configuration surface.
type Config struct {
	Model    string       `yaml:"model,omitempty"`
	Endpoint Endpoint     `yaml:"endpoint,omitempty"`
	Agent    AgentConfig  `yaml:"agent,omitempty"`
	Server   ServerConfig `yaml:"server,omitempty"`
	Session  Session      `yaml:"session,omitempty"`
	Log      Log          `yaml:"log,omitempty"`
}

type Endpoint struct {
	Completions string `yaml:"completions,omitempty"`
	Models      string `yaml:"models,omitempty"`
	Token       string `yaml:"token,omitempty"`
}

// AgentConfig bounds the autonomous loop. All fields are optional.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations,omitempty"`
	AutoExecute   *bool         `yaml:"auto_execute,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	Participant   string        `yaml:"participant,omitempty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

type Session struct {
	// Database is the sqlite path for conversation history. Empty keeps
	// history in memory only.
	Database string `yaml:"database,omitempty"`
}

type Log struct {
	File  string `yaml:"file,omitempty"`
	Debug bool   `yaml:"debug,omitempty"`
}

// Load reads path and returns the configuration with defaults applied.
// A missing file is not an error; it yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file\n%s", yaml.FormatError(err, true, true))
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Model = cmp.Or(c.Model, DefaultModel)
	c.Server.Addr = cmp.Or(c.Server.Addr, DefaultListenAddr)
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = DefaultTimeout
	}
	if c.Agent.AutoExecute == nil {
		enabled := true
		c.Agent.AutoExecute = &enabled
	}
}

func (c *Config) validate() error {
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.Timeout < 0 {
		return fmt.Errorf("agent.timeout must not be negative, got %s", c.Agent.Timeout)
	}
	return nil
}

// AutoExecute reports whether the loop may continue past the initial tool
// call.
func (a AgentConfig) AutoExecuteEnabled() bool {
	return a.AutoExecute == nil || *a.AutoExecute
}

// GitHubToken returns the OAuth token from the environment.
func GitHubToken() string {
	return os.Getenv(githubTokenEnv)
}
