// Package config loads replicate.yaml and applies REPLICATE_* environment
// overrides.
//
// Precedence, strongest first: environment, file, defaults. The file is
// decoded strictly; unknown keys are errors so typos never silently disable
// replication.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "replicate.yaml"

// Replicator types.
const (
	TypeSQLite  = "sqlite"
	TypeBadger  = "badger"
	TypeMetrics = "metrics"
	TypeLog     = "log"
)

// Config is the resolved configuration of one replicated store.
type Config struct {
	// Definition is the CUE file or directory holding the app definition.
	Definition string `yaml:"definition"`

	// App picks one app when the definition holds several.
	App string `yaml:"app,omitempty"`

	// Key overrides the definition's store key.
	Key string `yaml:"key,omitempty"`

	// Fields overrides the definition's field selection. Declaration order
	// matters: the first entry decides whitelist or blacklist.
	Fields *selector.Spec `yaml:"fields,omitempty"`

	// Queryable adds fields to the definition's queryable set.
	Queryable []string `yaml:"queryable,omitempty"`

	// ClientState overrides the definition's client snapshot.
	ClientState map[string]any `yaml:"client_state,omitempty"`

	Replicators []ReplicatorConfig `yaml:"replicators"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// ReplicatorConfig configures one replicator.
type ReplicatorConfig struct {
	Type string `yaml:"type"`

	// Path is the SQLite file or the Badger directory. ":memory:" keeps
	// either backend in RAM.
	Path string `yaml:"path,omitempty"`

	// Prefix namespaces Badger keys.
	Prefix string `yaml:"prefix,omitempty"`

	// Journal controls SQLite event journaling. Defaults to true.
	Journal *bool `yaml:"journal,omitempty"`
}

// JournalEnabled reports whether the SQLite journal is on.
func (r ReplicatorConfig) JournalEnabled() bool {
	return r.Journal == nil || *r.Journal
}

// envOverrides are the REPLICATE_* variables.
type envOverrides struct {
	Definition string   `env:"REPLICATE_DEFINITION"`
	App        string   `env:"REPLICATE_APP"`
	Key        string   `env:"REPLICATE_KEY"`
	LogLevel   string   `env:"REPLICATE_LOG_LEVEL"`
	Queryable  []string `env:"REPLICATE_QUERYABLE" envSeparator:","`
	SQLitePath string   `env:"REPLICATE_SQLITE_PATH"`
	BadgerPath string   `env:"REPLICATE_BADGER_PATH"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads path, applies the process environment and validates.
// A missing file at the default path yields an empty config so that a
// definition given only by flag or environment still works.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		data = nil
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data, env.ToMap(os.Environ()))
}

// Parse decodes data, applies environ overrides and validates.
func Parse(data []byte, environ map[string]string) (*Config, error) {
	cfg := &Config{}

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.Definition != "" {
		c.Definition = o.Definition
	}
	if o.App != "" {
		c.App = o.App
	}
	if o.Key != "" {
		c.Key = o.Key
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if len(o.Queryable) > 0 {
		c.Queryable = o.Queryable
	}
	if o.SQLitePath != "" {
		c.setPath(TypeSQLite, o.SQLitePath)
	}
	if o.BadgerPath != "" {
		c.setPath(TypeBadger, o.BadgerPath)
	}
	return nil
}

// setPath overrides the path of every replicator of type typ, adding one
// when none is configured.
func (c *Config) setPath(typ, path string) {
	found := false
	for i := range c.Replicators {
		if c.Replicators[i].Type == typ {
			c.Replicators[i].Path = path
			found = true
		}
	}
	if !found {
		c.Replicators = append(c.Replicators, ReplicatorConfig{Type: typ, Path: path})
	}
}

// Validate checks replicator types, required paths and the log level.
func (c *Config) Validate() error {
	for i, r := range c.Replicators {
		field := fmt.Sprintf("replicators[%d]", i)
		switch r.Type {
		case TypeSQLite, TypeBadger:
			if r.Path == "" {
				return &ConfigError{Field: field + ".path", Message: r.Type + " replicator requires a path"}
			}
		case TypeMetrics, TypeLog:
		case "":
			return &ConfigError{Field: field + ".type", Message: "type is required"}
		default:
			return &ConfigError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown type %q (want sqlite, badger, metrics or log)", r.Type),
			}
		}
	}

	if _, err := c.Level(); err != nil {
		return &ConfigError{Field: "log_level", Message: err.Error()}
	}
	if _, err := c.ClientStateIR(); err != nil {
		return &ConfigError{Field: "client_state", Message: err.Error()}
	}
	return nil
}

// Level returns the configured slog level, Info when unset.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// ClientStateIR converts the client snapshot to an IRObject.
// Returns nil when no client state is configured.
func (c *Config) ClientStateIR() (ir.IRObject, error) {
	if c.ClientState == nil {
		return nil, nil
	}
	v, err := ir.FromAny(map[string]any(c.ClientState))
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}

// Replicator returns the first replicator of type typ.
func (c *Config) Replicator(typ string) (ReplicatorConfig, bool) {
	for _, r := range c.Replicators {
		if r.Type == typ {
			return r, true
		}
	}
	return ReplicatorConfig{}, false
}
