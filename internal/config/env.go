package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of the environment variables read by ApplyEnv.
const EnvPrefix = "NEGSTATION_"

// envSetting applies one variable to the configuration.
type envSetting struct {
	name  string
	apply func(c *Config, v string) error
}

// envSettings maps variable names, without the prefix, to the setting they
// override.
var envSettings = []envSetting{
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"DEBUG", boolSetter(func(c *Config) *bool { return &c.Log.Debug })},
	{"LOG_FORWARD", boolSetter(func(c *Config) *bool { return &c.Log.Forward })},
	{"DRAIN_INTERVAL", durationSetter(func(c *Config) *Duration { return &c.Bus.DrainInterval })},
	{"PREVIEW_SIZE", intSetter(func(c *Config) *int { return &c.Preview.Size })},
	{"RAW_BINARY", func(c *Config, v string) error { c.Converter.RawBinary = v; return nil }},
	{"DECODE_TIMEOUT", durationSetter(func(c *Config) *Duration { return &c.Converter.DecodeTimeout })},
	{"OUTPUT_BPS", intSetter(func(c *Config) *int { return &c.Converter.Settings.OutputBPS })},
	{"HALF_SIZE", boolSetter(func(c *Config) *bool { return &c.Converter.Settings.HalfSize })},
	{"EXPORT_PATH", func(c *Config, v string) error { c.Export.Path = v; return nil }},
	{"EXPORT_QUALITY", intSetter(func(c *Config) *int { return &c.Export.Quality })},
	{"LAYOUT_PATH", func(c *Config, v string) error { c.Layout.Path = v; return nil }},
	{"HTTP_ENABLED", boolSetter(func(c *Config) *bool { return &c.HTTP.Enabled })},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"INBOX_DIR", func(c *Config, v string) error { c.Inbox.Dir = v; return nil }},
	{"INBOX_DEBOUNCE", durationSetter(func(c *Config) *Duration { return &c.Inbox.Debounce })},
}

// ApplyEnv overrides cfg with the set environment variables named
// prefix+NAME. Empty values are treated as set. Malformed values are
// reported together and leave their setting unchanged.
func ApplyEnv(cfg *Config, prefix string) error {
	return applyEnv(cfg, prefix, os.LookupEnv)
}

func applyEnv(cfg *Config, prefix string, lookup func(string) (string, bool)) error {
	var bad []string
	for _, s := range envSettings {
		name := prefix + s.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := s.apply(cfg, v); err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(bad, "; "))
	}
	return nil
}

// EnvNames returns the recognized variable names with prefix.
func EnvNames(prefix string) []string {
	out := make([]string, len(envSettings))
	for i, s := range envSettings {
		out[i] = prefix + s.name
	}
	return out
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func durationSetter(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not a duration: %q", v)
		}
		*field(c) = Duration(d)
		return nil
	}
}

// parseBool accepts true/false, yes/no, on/off and 1/0.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}
