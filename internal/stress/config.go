package stress

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/wippyai/ownership/errors"
	"go.uber.org/zap/zapcore"
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config controls a stress run.
type Config struct {
	LogLevel  string   `toml:"log_level"`
	Timeout   Duration `toml:"timeout"`
	Rounds    int      `toml:"rounds"`
	Lockers   int      `toml:"lockers"`
	Holders   int      `toml:"holders"`
	Observers int      `toml:"observers"`
	Attempts  int      `toml:"attempts"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Rounds:    1000,
		Lockers:   8,
		Holders:   4,
		Observers: 2,
		Attempts:  64,
		Timeout:   Duration{time.Minute},
		LogLevel:  "info",
	}
}

// LoadConfig reads a TOML file over the defaults. Unknown keys are an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Load(fmt.Sprintf("decode %s", path), err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path(path).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"rounds", c.Rounds},
		{"lockers", c.Lockers},
		{"holders", c.Holders},
		{"attempts", c.Attempts},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return invalid(f.name, "must be positive, got %d", f.value)
		}
	}
	if c.Observers < 0 {
		return invalid("observers", "must not be negative, got %d", c.Observers)
	}
	if c.Timeout.Duration < 0 {
		return invalid("timeout", "must not be negative, got %s", c.Timeout)
	}
	if _, err := c.Level(); err != nil {
		return invalid("log_level", "%v", err)
	}
	return nil
}

// Level parses LogLevel. An empty level means info.
func (c Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(c.LogLevel)
}

func invalid(field, format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(field).
		Detail(format, args...).
		Build()
}
