package pipeline

import (
	"errors"
	"sort"
	"sync"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
)

// ErrRegistryInUse is returned by Restore when stages were already
// registered.
var ErrRegistryInUse = errors.New("registry already has stages")

// stage is one slot of the registry.
type stage struct {
	label   string
	preview *artifact.Artifact
	full    *artifact.Artifact
}

// Registry is the stage table. All methods are safe for concurrent use.
type Registry struct {
	bus event.Publisher

	mu     sync.Mutex
	nextID StageID
	stages map[StageID]*stage
	used   bool

	// restored is set by Restore and cleared by Register.
	restored bool
}

// NewRegistry creates an empty registry announcing changes on bus.
func NewRegistry(bus event.Publisher) *Registry {
	return &Registry{
		bus:    bus,
		stages: make(map[StageID]*stage),
	}
}

// Register allocates the next id with the given label and empty slots.
func (r *Registry) Register(label string) StageID {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.used = true
	r.restored = false
	r.stages[id] = &stage{label: label}
	r.announceLocked()
	r.mu.Unlock()
	return id
}

// Rename changes the label of id. Unknown ids are ignored.
func (r *Registry) Rename(id StageID, label string) {
	r.mu.Lock()
	st, ok := r.stages[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.label = label
	r.announceLocked()
	r.mu.Unlock()
}

// Publish stores a into the tier slot of id and announces it. A nil
// artifact or an unknown id does nothing. The other tier is untouched.
func (r *Registry) Publish(id StageID, a *artifact.Artifact, tier Tier) {
	if a == nil {
		return
	}

	r.mu.Lock()
	st, ok := r.stages[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if tier == TierFull {
		st.full = a
	} else {
		st.preview = a
	}
	event.Publish(r.bus, DataKey(tier), StageData{ID: id, Artifact: a})
	r.mu.Unlock()
}

// Preview returns the preview artifact of id, or nil.
func (r *Registry) Preview(id StageID) *artifact.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stages[id]; ok {
		return st.preview
	}
	return nil
}

// FullResolution returns the full-resolution artifact of id, or nil.
func (r *Registry) FullResolution(id StageID) *artifact.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stages[id]; ok {
		return st.full
	}
	return nil
}

// Artifact returns the artifact stored in the given tier of id, or nil.
func (r *Registry) Artifact(id StageID, tier Tier) *artifact.Artifact {
	if tier == TierFull {
		return r.FullResolution(id)
	}
	return r.Preview(id)
}

// Label returns the label of id and whether the stage exists.
func (r *Registry) Label(id StageID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stages[id]; ok {
		return st.label, true
	}
	return "", false
}

// Remove deletes id with both of its slots. The id is never handed out
// again. Artifacts already obtained by consumers stay valid.
func (r *Registry) Remove(id StageID) {
	r.mu.Lock()
	if _, ok := r.stages[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.stages, id)
	r.announceLocked()
	r.mu.Unlock()
}

// RepublishStructure announces the current structure again so that a
// consumer joining late can synchronize.
func (r *Registry) RepublishStructure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announceLocked()
}

// RunFullResolution broadcasts the full-resolution trigger.
func (r *Registry) RunFullResolution() {
	event.Publish(r.bus, TopicRunFull, RunFull{})
}

// Stages returns the current structure sorted by id.
func (r *Registry) Stages() Structure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.structureLocked()
}

// Len returns the number of stages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stages)
}

// Restore recreates stages of a saved session with their original ids.
// The next id becomes one past the largest restored id. Only a registry
// that never registered a stage can be restored, so ids are never reused.
func (r *Registry) Restore(stages []StageInfo) error {
	r.mu.Lock()
	if r.used {
		r.mu.Unlock()
		return ErrRegistryInUse
	}
	for _, st := range stages {
		if !st.ID.Valid() {
			continue
		}
		r.stages[st.ID] = &stage{label: st.Label}
		if st.ID >= r.nextID {
			r.nextID = st.ID + 1
		}
	}
	r.used = true
	r.restored = true
	r.announceLocked()
	r.mu.Unlock()
	return nil
}

// AbandonRestore undoes a Restore that no Register call followed: every
// stage is dropped and the registry accepts another Restore. It reports
// false, changing nothing, when there is no such Restore to undo.
func (r *Registry) AbandonRestore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.restored {
		return false
	}
	clear(r.stages)
	r.nextID = 0
	r.used = false
	r.restored = false
	r.announceLocked()
	return true
}

// announceLocked publishes the structure while the lock is held, so
// announcements reach the bus in the order the changes were applied.
// The publisher must not block.
func (r *Registry) announceLocked() {
	event.Publish(r.bus, TopicStructure, r.structureLocked())
}

func (r *Registry) structureLocked() Structure {
	out := make(Structure, 0, len(r.stages))
	for id, st := range r.stages {
		out = append(out, StageInfo{ID: id, Label: st.label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store writes a into the tier slot of id without announcing it. Sources
// use it to hold a full-resolution artifact until run-full-resolution.
func (r *Registry) Store(id StageID, a *artifact.Artifact, tier Tier) {
	if a == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stages[id]
	if !ok {
		return
	}
	if tier == TierFull {
		st.full = a
	} else {
		st.preview = a
	}
}
