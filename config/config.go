// Package config loads vbridge settings from YAML.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
)

// Engines accepted in Config.Engine.
const (
	EngineLua  = "lua"
	EngineJS   = "js"
	EngineWasm = "wasm"
)

// Config holds the settings of one bridge instance.
type Config struct {
	// Engine selects the script runtime: lua, js or wasm.
	Engine string `yaml:"engine"`

	// LockTimeout bounds the wait for a shared record's lock. Zero waits
	// forever.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// PressureThreshold is the external memory volume, in bytes, above
	// which the registry forces a collection. Zero disables it.
	PressureThreshold int64 `yaml:"pressure_threshold"`

	// IndexBase overrides the engine's script index base.
	IndexBase *int `yaml:"index_base,omitempty"`

	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level"`

	// Shared wraps records as owned shared roots instead of scoped borrows.
	Shared bool `yaml:"shared"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Engine:   EngineLua,
		LogLevel: "info",
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "reading "+path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineLua, EngineJS, EngineWasm:
	default:
		return invalid("engine", "unknown engine %q", c.Engine)
	}
	if c.LockTimeout < 0 {
		return invalid("lock_timeout", "negative lock timeout %s", c.LockTimeout)
	}
	if c.PressureThreshold < 0 {
		return invalid("pressure_threshold", "negative threshold %d", c.PressureThreshold)
	}
	if c.IndexBase != nil && *c.IndexBase != 0 && *c.IndexBase != 1 {
		return invalid("index_base", "index base must be 0 or 1, got %d", *c.IndexBase)
	}
	if _, err := c.Level(); err != nil {
		return invalid("log_level", "%v", err)
	}
	return nil
}

func invalid(field, format string, args ...any) *errors.Error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Field(field).Detail(format, args...).Build()
}

// Base returns the script index base: the override if set, else 1 for Lua
// and 0 for the others.
func (c *Config) Base() int {
	if c.IndexBase != nil {
		return *c.IndexBase
	}
	if c.Engine == EngineLua {
		return 1
	}
	return 0
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(c.LogLevel)
}

// Options converts the settings to registry options. log may be nil.
func (c *Config) Options(log *zap.Logger) []bridge.Option {
	opts := []bridge.Option{
		bridge.WithIndexBase(c.Base()),
		bridge.WithLockTimeout(c.LockTimeout),
	}
	if c.PressureThreshold > 0 {
		opts = append(opts, bridge.WithPressure(c.PressureThreshold, bridge.CollectGarbage))
	}
	if log != nil {
		opts = append(opts, bridge.WithLogger(log))
	}
	return opts
}

// Mode returns the ownership mode records are wrapped with when Shared is
// set.
func (c *Config) Mode() bridge.Mode {
	if c.Shared {
		return bridge.OwnedShared
	}
	return bridge.BorrowedScoped
}
