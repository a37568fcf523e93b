package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/stage"
)

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log" json:"log"`
	Bus       BusConfig       `toml:"bus" yaml:"bus" json:"bus"`
	Preview   PreviewConfig   `toml:"preview" yaml:"preview" json:"preview"`
	Converter ConverterConfig `toml:"converter" yaml:"converter" json:"converter"`
	Export    ExportConfig    `toml:"export" yaml:"export" json:"export"`
	Layout    LayoutConfig    `toml:"layout" yaml:"layout" json:"layout"`
	HTTP      HTTPConfig      `toml:"http" yaml:"http" json:"http"`
	Inbox     InboxConfig     `toml:"inbox" yaml:"inbox" json:"inbox"`
}

// LogConfig controls the application logger.
type LogConfig struct {
	// Level is a logrus level name.
	Level string `toml:"level" yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `toml:"format" yaml:"format" json:"format"`
	// Debug forces debug level with colored, fully timestamped text output.
	Debug bool `toml:"debug" yaml:"debug" json:"debug"`
	// Forward publishes log entries on the bus as log records.
	Forward bool `toml:"forward" yaml:"forward" json:"forward"`
}

// BusConfig controls the event bus.
type BusConfig struct {
	// Source names the publisher recorded on envelopes with no explicit source.
	Source string `toml:"source" yaml:"source" json:"source"`
	// DrainInterval is the main loop tick that drains main-thread deliveries.
	DrainInterval Duration `toml:"drain_interval" yaml:"drain_interval" json:"drain_interval"`
}

// PreviewConfig controls preview tier artifacts.
type PreviewConfig struct {
	// Size is the longest preview edge in pixels.
	Size int `toml:"size" yaml:"size" json:"size"`
}

// ConverterConfig controls background conversion.
type ConverterConfig struct {
	// RawBinary is the raw developer executable.
	RawBinary string `toml:"raw_binary" yaml:"raw_binary" json:"raw_binary"`
	// DecodeTimeout bounds a single decode. Zero disables the bound.
	DecodeTimeout Duration `toml:"decode_timeout" yaml:"decode_timeout" json:"decode_timeout"`
	// Settings are the decode parameters.
	Settings converter.Settings `toml:"settings" yaml:"settings" json:"settings"`
}

// ExportConfig controls the export sink of generated chains.
type ExportConfig struct {
	// Path is the output file; its extension selects the format.
	Path string `toml:"path" yaml:"path" json:"path"`
	// Quality is the JPEG quality, 1 to 100.
	Quality int `toml:"quality" yaml:"quality" json:"quality"`
}

// LayoutConfig locates the saved pipeline layout.
type LayoutConfig struct {
	// Path is the layout file. Empty disables loading and saving.
	Path string `toml:"path" yaml:"path" json:"path"`
	// SaveOnExit writes the layout back when the run loop stops.
	SaveOnExit bool `toml:"save_on_exit" yaml:"save_on_exit" json:"save_on_exit"`
}

// HTTPConfig controls the local inspection server.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" json:"enabled"`
	Addr    string `toml:"addr" yaml:"addr" json:"addr"`
}

// InboxConfig controls the watched capture directory.
type InboxConfig struct {
	// Dir is the directory watched for new captures.
	Dir string `toml:"dir" yaml:"dir" json:"dir"`
	// Extensions limits which files are enqueued. Empty accepts every
	// file and leaves rejection to the decoders.
	Extensions []string `toml:"extensions" yaml:"extensions" json:"extensions"`
	// Debounce is how long a file must be quiet before it is enqueued.
	Debounce Duration `toml:"debounce" yaml:"debounce" json:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bus: BusConfig{
			Source:        "negstation",
			DrainInterval: Duration(16 * time.Millisecond),
		},
		Preview: PreviewConfig{
			Size: stage.DefaultPreviewSize,
		},
		Converter: ConverterConfig{
			RawBinary:     converter.DefaultRawBinary,
			DecodeTimeout: Duration(5 * time.Minute),
			Settings:      converter.DefaultSettings(),
		},
		Export: ExportConfig{
			Quality: stage.DefaultJPEGQuality,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8470",
		},
		Inbox: InboxConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
	}
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string, v any) {
		errs = append(errs, &FieldError{Field: field, Message: msg, Value: v})
	}

	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			add("log.level", "unknown level", c.Log.Level)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format", "must be text or json", c.Log.Format)
	}
	if c.Bus.DrainInterval <= 0 {
		add("bus.drain_interval", "must be positive", c.Bus.DrainInterval)
	}
	if c.Preview.Size <= 0 {
		add("preview.size", "must be positive", c.Preview.Size)
	}
	if c.Converter.DecodeTimeout < 0 {
		add("converter.decode_timeout", "must not be negative", c.Converter.DecodeTimeout)
	}
	if err := c.Converter.Settings.Validate(); err != nil {
		add("converter.settings", err.Error(), c.Converter.Settings)
	}
	if c.Export.Quality < 1 || c.Export.Quality > 100 {
		add("export.quality", "must be between 1 and 100", c.Export.Quality)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		add("http.addr", "required when http is enabled", c.HTTP.Addr)
	}
	if c.Inbox.Debounce < 0 {
		add("inbox.debounce", "must not be negative", c.Inbox.Debounce)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}

// LogLevel returns the effective log level. Debug wins over Level.
func (c *Config) LogLevel() logrus.Level {
	if c.Log.Debug {
		return logrus.DebugLevel
	}
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// InboxAccepts reports whether path has one of the inbox extensions.
// An empty list accepts everything.
func (c *Config) InboxAccepts(path string) bool {
	if len(c.Inbox.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(path)
	for _, ext := range c.Inbox.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Duration is a time.Duration that reads and writes as "500ms", "2s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
