// ABOUTME: Configuration loading and parsing for openbot-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a value.
const (
	DefaultHTTPAddr     = "127.0.0.1:38080"
	DefaultBackendPort  = 38081
	DefaultAPIPrefix    = "/server-api"
	DefaultPollInterval = 2 * time.Second
	DefaultIdleTimeout  = 10 * time.Minute
)

// Config represents the complete openbot-gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Static   StaticConfig   `yaml:"static"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the front-door listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BackendConfig describes the supervised backend child process and the path
// prefix under which its API is reverse-proxied.
type BackendConfig struct {
	// Command launches the backend; Args are appended after Entry.
	Command string   `yaml:"command"`
	Entry   string   `yaml:"entry"`
	Args    []string `yaml:"args"`

	// PortBase is the first candidate port probed for the child process.
	PortBase int `yaml:"port_base"`

	// APIPrefix is the shared path prefix proxied verbatim to the backend.
	APIPrefix string `yaml:"api_prefix"`
}

// StaticConfig holds the packaged UI output directory.
type StaticConfig struct {
	Dir string `yaml:"dir"`
}

// ScheduleConfig holds the scheduled-task runner's serialization knobs.
type ScheduleConfig struct {
	PollInterval time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
	IdleTimeoutRaw  string `yaml:"idle_timeout"`
}

// AgentConfig holds filesystem roots for agent state.
type AgentConfig struct {
	// Dir is the agent home (skills, experience log). Defaults to ~/.openbot.
	Dir string `yaml:"dir"`

	// DesktopDir holds config.json and agents.json shared with the backend.
	// Defaults to <Dir>/desktop.
	DesktopDir string `yaml:"desktop_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with every default applied, used when no config
// file exists on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Backend.PortBase == 0 {
		c.Backend.PortBase = DefaultBackendPort
	}
	if c.Backend.APIPrefix == "" {
		c.Backend.APIPrefix = DefaultAPIPrefix
	}
	if c.Schedule.PollInterval == 0 {
		c.Schedule.PollInterval = DefaultPollInterval
	}
	if c.Schedule.IdleTimeout == 0 {
		c.Schedule.IdleTimeout = DefaultIdleTimeout
	}
	if c.Agent.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.Agent.Dir = filepath.Join(home, ".openbot")
	}
	if c.Agent.DesktopDir == "" {
		c.Agent.DesktopDir = filepath.Join(c.Agent.Dir, "desktop")
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Backend.PortBase <= 0 || c.Backend.PortBase > 65535 {
		return fmt.Errorf("backend.port_base must be a valid TCP port, got %d", c.Backend.PortBase)
	}
	if c.Backend.APIPrefix == "" || c.Backend.APIPrefix[0] != '/' {
		return fmt.Errorf("backend.api_prefix must start with '/', got %q", c.Backend.APIPrefix)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Schedule.PollIntervalRaw != "" {
		cfg.Schedule.PollInterval, err = time.ParseDuration(cfg.Schedule.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Schedule.PollIntervalRaw, err)
		}
	}

	if cfg.Schedule.IdleTimeoutRaw != "" {
		cfg.Schedule.IdleTimeout, err = time.ParseDuration(cfg.Schedule.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Schedule.IdleTimeoutRaw, err)
		}
	}

	return nil
}
