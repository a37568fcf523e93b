package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/layout"
	"github.com/dshills/negstation/internal/stage"
)

// AddNode creates a stage node of kind and keeps it for the session.
func (app *Application) AddNode(kind string, opts ...stage.Option) (*stage.Node, error) {
	n, err := stage.New(kind, app.Env(), opts...)
	if err != nil {
		return nil, err
	}
	app.nodesMu.Lock()
	app.nodes = append(app.nodes, n)
	app.nodesMu.Unlock()
	return n, nil
}

// RemoveNode closes n and drops it from the session.
func (app *Application) RemoveNode(ctx context.Context, n *stage.Node) error {
	app.nodesMu.Lock()
	app.nodes = slices.DeleteFunc(app.nodes, func(x *stage.Node) bool { return x == n })
	app.nodesMu.Unlock()
	return n.Close(ctx)
}

// Nodes returns the session's nodes in creation order.
func (app *Application) Nodes() []*stage.Node {
	app.nodesMu.Lock()
	defer app.nodesMu.Unlock()
	return slices.Clone(app.nodes)
}

// Source returns the first open node of the session.
func (app *Application) Source() (*stage.Node, error) {
	for _, n := range app.Nodes() {
		if stage.IsSource(n.Kind()) && !n.IsClosed() {
			return n, nil
		}
	}
	return nil, ErrNoSource
}

// Open queues path on the session's source.
func (app *Application) Open(path string) error {
	src, err := app.Source()
	if err != nil {
		return err
	}
	return src.Open(path)
}

// EnsureSource returns the session's source, creating an open node when
// there is none.
func (app *Application) EnsureSource() (*stage.Node, error) {
	if src, err := app.Source(); err == nil {
		return src, nil
	}
	return app.AddNode("open")
}

// Chain describes a linear chain built by BuildChain.
type Chain struct {
	// Filters are the filter kinds applied in order after the source.
	Filters []string
	// Configs holds settings per filter index.
	Configs map[int]stage.Config
	// ExportPath adds an export sink at the end when set.
	ExportPath string
	// ExportQuality is the JPEG quality of the export sink.
	ExportQuality int
	// Histogram adds a histogram sink on the last stage.
	Histogram bool
}

// BuildChain creates source → filters → sinks. On failure the nodes
// created by this call are removed; close failures during that rollback
// are returned along with the original error.
func (app *Application) BuildChain(ctx context.Context, c Chain) ([]*stage.Node, error) {
	var created []*stage.Node
	fail := func(err error) ([]*stage.Node, error) {
		var errs ErrorList
		errs.Add(err)
		errs.Add(app.removeNodes(ctx, created))
		return nil, errs.AsError()
	}
	add := func(kind string, opts ...stage.Option) (*stage.Node, error) {
		n, err := app.AddNode(kind, opts...)
		if err == nil {
			created = append(created, n)
		}
		return n, err
	}

	src, err := add("open")
	if err != nil {
		return fail(err)
	}
	last := src.Output()

	for i, kind := range c.Filters {
		if stage.IsSource(kind) || stage.IsSink(kind) {
			return fail(fmt.Errorf("%w: %q is not a filter", stage.ErrUnknownKind, kind))
		}
		n, err := add(kind, stage.WithInput(last), stage.WithConfig(c.Configs[i]))
		if err != nil {
			return fail(err)
		}
		last = n.Output()
	}

	if c.Histogram {
		if _, err := add("histogram", stage.WithInput(last)); err != nil {
			return fail(err)
		}
	}
	if c.ExportPath != "" {
		cfg := stage.Config{"path": c.ExportPath}
		if c.ExportQuality > 0 {
			cfg["quality"] = c.ExportQuality
		}
		if _, err := add("export", stage.WithInput(last), stage.WithConfig(cfg)); err != nil {
			return fail(err)
		}
	}
	return created, nil
}

// LoadLayout restores a saved session. The registry must be unused.
func (app *Application) LoadLayout(ctx context.Context, path string) error {
	l, err := layout.Load(path)
	if err != nil {
		return NewComponentError("layout", "load", err)
	}
	nodes, err := layout.Apply(ctx, app.Env(), l)
	if err != nil {
		return NewComponentError("layout", "apply", err)
	}

	app.nodesMu.Lock()
	app.nodes = append(app.nodes, nodes...)
	app.nodesMu.Unlock()

	app.log.WithFields(logrus.Fields{
		"path":   path,
		"stages": len(l.Stages),
		"nodes":  len(nodes),
	}).Info("layout restored")
	return nil
}

// SaveLayout writes the current session to path.
func (app *Application) SaveLayout(path string) error {
	l := layout.Capture(app.registry, app.Nodes())
	if err := layout.Save(path, l); err != nil {
		return NewComponentError("layout", "save", err)
	}
	app.log.WithField("path", path).Info("layout saved")
	return nil
}

// ConverterStats returns the stats of every open node's converter, keyed
// by converter name.
func (app *Application) ConverterStats() map[string]converter.Stats {
	out := make(map[string]converter.Stats)
	for _, n := range app.Nodes() {
		src, ok := n.Processor().(*stage.OpenSource)
		if !ok || n.IsClosed() {
			continue
		}
		out[fmt.Sprintf("open-%s", n.Output())] = src.Converter().Stats()
	}
	return out
}

// closeNodes closes every node, sinks first so nothing processes into a
// removed stage.
// removeNodes removes nodes from the session, last first.
func (app *Application) removeNodes(ctx context.Context, nodes []*stage.Node) error {
	var errs ErrorList
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := app.RemoveNode(ctx, nodes[i]); err != nil {
			app.log.WithError(err).WithField("kind", nodes[i].Kind()).Warn("node close failed during rollback")
			errs.Add(NewComponentError("stage "+nodes[i].Kind(), "close", err))
		}
	}
	return errs.AsError()
}

func (app *Application) closeNodes(ctx context.Context) error {
	nodes := app.Nodes()
	app.nodesMu.Lock()
	app.nodes = nil
	app.nodesMu.Unlock()

	var errs ErrorList
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := nodes[i].Close(ctx); err != nil {
			errs.Add(NewComponentError("stage "+nodes[i].Kind(), "close", err))
		}
	}
	return errs.AsError()
}
