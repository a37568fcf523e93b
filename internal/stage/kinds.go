package stage

import "sort"

type role int

const (
	roleSource role = iota
	roleFilter
	roleSink
)

// kind describes one node type.
type kind struct {
	name  string
	label string
	role  role
	build func(n *Node) (Processor, error)
}

var kinds = map[string]*kind{}

func registerKind(k *kind) {
	if _, dup := kinds[k.name]; dup {
		panic("stage: duplicate kind " + k.name)
	}
	kinds[k.name] = k
}

func lookupKind(name string) (*kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// Kinds returns the names of every node kind, sorted.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsSource reports whether kind produces artifacts from files.
func IsSource(name string) bool {
	k, ok := kinds[name]
	return ok && k.role == roleSource
}

// IsSink reports whether kind has no output stage.
func IsSink(name string) bool {
	k, ok := kinds[name]
	return ok && k.role == roleSink
}

func init() {
	registerKind(&kind{name: "open", label: "opened-image", role: roleSource, build: newOpenSource})
	registerKind(&kind{name: "invert", label: "inverted-image", role: roleFilter, build: filter(newInvert)})
	registerKind(&kind{name: "monochrome", label: "monochrome", role: roleFilter, build: filter(newMonochrome)})
	registerKind(&kind{name: "crop", label: "cropped", role: roleFilter, build: filter(newCrop)})
	registerKind(&kind{name: "orientation", label: "oriented", role: roleFilter, build: filter(newOrientation)})
	registerKind(&kind{name: "framing", label: "framed", role: roleFilter, build: filter(newFraming)})
	registerKind(&kind{name: "curve", label: "curved", role: roleFilter, build: newCurve})
	registerKind(&kind{name: "histogram", label: "histogram", role: roleSink, build: newHistogram})
	registerKind(&kind{name: "export", label: "export", role: roleSink, build: newExport})
	registerKind(&kind{name: "viewer", label: "viewer", role: roleSink, build: newViewer})
}

// filter adapts a constructor that needs nothing from the node.
func filter[T Processor](fn func() T) func(*Node) (Processor, error) {
	return func(*Node) (Processor, error) {
		return fn(), nil
	}
}
