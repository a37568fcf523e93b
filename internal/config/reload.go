package config

import (
	"io"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/watch"
)

// ReloadFunc receives a newly loaded configuration and the names of the
// top-level sections that differ from the previous one.
type ReloadFunc func(cfg *Config, changed []string)

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloadDebounce sets how long the file must be quiet before reloading.
func WithReloadDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		r.debounce = d
	}
}

// WithReloadLogger sets the logger for reload failures.
func WithReloadLogger(l logrus.FieldLogger) ReloaderOption {
	return func(r *Reloader) {
		if l != nil {
			r.log = l
		}
	}
}

// WithEnvPrefix reapplies environment overrides after every reload so the
// file cannot undo them. An empty prefix disables it.
func WithEnvPrefix(prefix string) ReloaderOption {
	return func(r *Reloader) {
		r.envPrefix = prefix
	}
}

// Reloader reloads a config file when it changes on disk. Files that fail
// to load or validate are logged and ignored; the last good configuration
// stays current.
type Reloader struct {
	path      string
	onChange  ReloadFunc
	debounce  time.Duration
	envPrefix string
	log       logrus.FieldLogger

	mu      sync.Mutex
	current *Config
	reloads int
	fails   int

	w *watch.Watcher
}

// NewReloader starts watching path. current is the configuration in effect.
// The directory is watched rather than the file, so editors that replace
// the file through a rename are followed.
func NewReloader(path string, current *Config, onChange ReloadFunc, opts ...ReloaderOption) (*Reloader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	r := &Reloader{
		path:     abs,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		log:      l,
		current:  current,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("config", abs)

	base := filepath.Base(abs)
	w, err := watch.New(r.handle,
		watch.WithDebounce(r.debounce),
		watch.WithLogger(r.log),
		watch.WithFilter(func(ev watch.Event) bool {
			return filepath.Base(ev.Path) == base
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := w.Watch(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	r.w = w
	return r, nil
}

// Current returns the configuration in effect.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Counts returns the number of applied and rejected reloads.
func (r *Reloader) Counts() (reloads, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads, r.fails
}

// Close stops watching.
func (r *Reloader) Close() error {
	return r.w.Close()
}

func (r *Reloader) handle(ev watch.Event) {
	if ev.Op.Has(watch.OpRemove) && !ev.Op.Has(watch.OpCreate) && !ev.Op.Has(watch.OpWrite) {
		r.log.Debug("config file removed, keeping current configuration")
		return
	}
	r.Reload()
}

// Reload loads the file now. It reports whether a new configuration was
// applied.
func (r *Reloader) Reload() bool {
	cfg, err := Load(r.path)
	if err == nil && r.envPrefix != "" {
		err = ApplyEnv(cfg, r.envPrefix)
	}
	if err == nil {
		err = cfg.Validate()
	}

	r.mu.Lock()
	if err != nil {
		r.fails++
		r.mu.Unlock()
		r.log.WithError(err).Warn("config reload rejected")
		return false
	}
	prev := r.current
	changed := Changed(prev, cfg)
	r.current = cfg
	r.reloads++
	r.mu.Unlock()

	if len(changed) == 0 {
		return true
	}
	r.log.WithField("sections", changed).Info("config reloaded")
	if r.onChange != nil {
		r.onChange(cfg, changed)
	}
	return true
}

// Changed returns the toml names of the top-level sections that differ
// between a and b. A nil a counts as every section changed.
func Changed(a, b *Config) []string {
	bv := reflect.ValueOf(b).Elem()
	t := bv.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("toml")
		if a == nil {
			out = append(out, name)
			continue
		}
		av := reflect.ValueOf(a).Elem()
		if !reflect.DeepEqual(av.Field(i).Interface(), bv.Field(i).Interface()) {
			out = append(out, name)
		}
	}
	return out
}
