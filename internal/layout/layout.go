// Package layout saves and restores a pipeline session: the stages of the
// registry with their ids and labels, and the stage nodes bound to them
// with their settings.
//
// Files are JSON (.json) or YAML (.yaml, .yml), chosen by extension.
// Restoring recreates stages with their saved ids first, so every node is
// rebound to exactly the stages it used before.
package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/negstation/internal/pipeline"
	"github.com/dshills/negstation/internal/stage"
)

// Version is written into saved layouts.
const Version = 1

// Errors returned by layout operations.
var (
	ErrUnsupportedFormat = errors.New("unsupported layout format")
	ErrVersion           = errors.New("unsupported layout version")
)

// Layout is a saved pipeline session.
type Layout struct {
	Version int                `json:"version" yaml:"version"`
	Stages  pipeline.Structure `json:"stages" yaml:"stages"`
	Nodes   []stage.State      `json:"nodes" yaml:"nodes"`
}

// Capture snapshots the registry structure and the state of every open node.
func Capture(reg *pipeline.Registry, nodes []*stage.Node) *Layout {
	l := &Layout{
		Version: Version,
		Stages:  reg.Stages(),
		Nodes:   make([]stage.State, 0, len(nodes)),
	}
	for _, n := range nodes {
		if n == nil || n.IsClosed() {
			continue
		}
		l.Nodes = append(l.Nodes, n.State())
	}
	return l
}

// Apply restores l into an unused registry and creates its nodes. Unknown
// node kinds are rejected before the registry is touched. On a later
// failure every node created so far is closed and the restored stages are
// dropped, so the registry can take another Apply.
func Apply(ctx context.Context, env stage.Env, l *Layout) ([]*stage.Node, error) {
	if l.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, l.Version)
	}
	kinds := stage.Kinds()
	for i, st := range l.Nodes {
		if !slices.Contains(kinds, st.Kind) {
			return nil, fmt.Errorf("restore node %d: %w: %q", i, stage.ErrUnknownKind, st.Kind)
		}
	}
	if err := env.Registry.Restore(l.Stages); err != nil {
		return nil, err
	}

	nodes := make([]*stage.Node, 0, len(l.Nodes))
	for i, st := range l.Nodes {
		n, err := stage.Restore(env, st)
		if err != nil {
			for _, created := range nodes {
				created.Close(ctx)
			}
			if !env.Registry.AbandonRestore() {
				for _, info := range l.Stages {
					env.Registry.Remove(info.ID)
				}
			}
			return nil, fmt.Errorf("restore node %d (%s): %w", i, st.Kind, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Save writes l to path, replacing any existing file.
func Save(path string, l *Layout) error {
	if l.Version == 0 {
		l.Version = Version
	}

	var data []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = json.MarshalIndent(l, "", "  ")
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(l); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".layout-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a layout from path.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	l := &Layout{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, l)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, l)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load layout %s: %w", path, err)
	}
	if l.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, l.Version)
	}
	return l, nil
}
