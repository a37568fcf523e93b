// Package watch reports file system changes with per-path debouncing.
//
// It wraps fsnotify. Rapid operations on one path (an editor writing a
// file through a temporary and a rename, a camera tethering tool streaming
// a raw file) are coalesced into a single Event delivered after the path
// has been quiet for the debounce delay. Handlers run on one delivery
// goroutine, in the order paths settle.
package watch

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is a settled change of one path.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Op is the union of the operations seen while the path was settling.
	Op Op

	// Timestamp is when the last operation was seen.
	Timestamp time.Time
}

// Handler receives settled events.
type Handler func(Event)

// Filter decides whether an event is kept. Return true to keep it.
type Filter func(Event) bool

// Stats provides watcher status information.
type Stats struct {
	WatchedPaths  int
	PendingEvents int
	TotalEvents   int64
	Errors        int64
	LastError     error
}

type config struct {
	debounce     time.Duration
	ignoreHidden bool
	filter       Filter
	logger       logrus.FieldLogger
}

// Option configures a Watcher.
type Option func(*config)

// WithDebounce sets how long a path must be quiet before its event is
// delivered.
func WithDebounce(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithIgnoreHidden drops events for names starting with a dot.
func WithIgnoreHidden(ignore bool) Option {
	return func(c *config) {
		c.ignoreHidden = ignore
	}
}

// WithFilter drops events the filter rejects. The filter sees raw
// operations, before coalescing.
func WithFilter(f Filter) Option {
	return func(c *config) {
		c.filter = f
	}
}

// WithLogger sets the logger for watcher errors.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// pending is a path that has not settled yet.
type pending struct {
	event Event
	timer *time.Timer
}

// Watcher watches files and directories for changes.
type Watcher struct {
	fsw     *fsnotify.Watcher
	handler Handler
	config  config
	log     logrus.FieldLogger

	mu      sync.Mutex
	paths   map[string]bool
	pending map[string]*pending
	closed  bool

	settled chan Event
	closeCh chan struct{}
	wg      sync.WaitGroup

	totalEvents atomic.Int64
	totalErrors atomic.Int64
	lastError   atomic.Value
}

// New creates a watcher delivering settled events to handler.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: nil handler")
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	cfg := config{
		debounce: 100 * time.Millisecond,
		logger:   l,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		handler: handler,
		config:  cfg,
		log:     cfg.logger.WithField("component", "watch"),
		paths:   make(map[string]bool),
		pending: make(map[string]*pending),
		settled: make(chan Event, 64),
		closeCh: make(chan struct{}),
	}

	w.wg.Add(2)
	go w.processLoop()
	go w.deliverLoop()
	return w, nil
}

// Watch starts watching a file or a directory. Directories report changes
// of their immediate children.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[abs] {
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.paths[abs] = true
	return nil
}

// Unwatch stops watching a path.
func (w *Watcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if !w.paths[abs] {
		return ErrNotWatching
	}
	if err := w.fsw.Remove(abs); err != nil {
		return err
	}
	delete(w.paths, abs)
	return nil
}

// WatchedPaths returns all watched paths.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	s := Stats{
		WatchedPaths:  len(w.paths),
		PendingEvents: len(w.pending),
	}
	w.mu.Unlock()

	s.TotalEvents = w.totalEvents.Load()
	s.Errors = w.totalErrors.Load()
	if err, ok := w.lastError.Load().(error); ok {
		s.LastError = err
	}
	return s
}

// Close stops the watcher. Events that have not settled are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.recordError(err)
		}
	}
}

func (w *Watcher) deliverLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case ev := <-w.settled:
			w.totalEvents.Add(1)
			w.handler(ev)
		}
	}
}

// handleFSEvent converts an fsnotify event and starts or extends the
// debounce window of its path.
func (w *Watcher) handleFSEvent(fe fsnotify.Event) {
	op := convertOp(fe.Op)
	if op == 0 {
		return
	}
	if w.config.ignoreHidden {
		if base := filepath.Base(fe.Name); len(base) > 0 && base[0] == '.' {
			return
		}
	}

	ev := Event{Path: fe.Name, Op: op, Timestamp: time.Now()}
	if w.config.filter != nil && !w.config.filter(ev) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if p, ok := w.pending[ev.Path]; ok {
		p.event.Op |= ev.Op
		p.event.Timestamp = ev.Timestamp
		p.timer.Reset(w.config.debounce)
		return
	}

	path := ev.Path
	w.pending[path] = &pending{
		event: ev,
		timer: time.AfterFunc(w.config.debounce, func() { w.fire(path) }),
	}
}

// fire hands a settled path to the delivery goroutine.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case w.settled <- p.event:
	case <-w.closeCh:
	}
}

func (w *Watcher) recordError(err error) {
	w.totalErrors.Add(1)
	w.lastError.Store(err)
	w.log.WithError(err).Warn("file watcher error")
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}
