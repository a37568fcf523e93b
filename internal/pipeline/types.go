package pipeline

import (
	"strconv"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
)

// StageID identifies a stage for the lifetime of the process.
type StageID int

// NoStage is the id of an unbound input or output.
const NoStage StageID = -1

// String returns the decimal form of the id.
func (id StageID) String() string {
	return strconv.Itoa(int(id))
}

// Valid reports whether id could have been returned by Register.
func (id StageID) Valid() bool {
	return id >= 0
}

// Tier selects one of the two artifact slots of a stage.
type Tier int

const (
	// TierPreview is the small artifact used for interactive editing.
	TierPreview Tier = iota

	// TierFull is the full-resolution artifact used for final output.
	TierFull
)

// String returns a human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierPreview:
		return "preview"
	case TierFull:
		return "full"
	default:
		return "unknown"
	}
}

// StageInfo is the id and label of one stage.
type StageInfo struct {
	ID    StageID `json:"id" yaml:"id"`
	Label string  `json:"label" yaml:"label"`
}

// Structure is the complete list of stages, sorted by id.
type Structure []StageInfo

// Labels returns the structure as an id to label map.
func (s Structure) Labels() map[StageID]string {
	m := make(map[StageID]string, len(s))
	for _, st := range s {
		m[st.ID] = st.Label
	}
	return m
}

// Contains reports whether id is part of the structure.
func (s Structure) Contains(id StageID) bool {
	for _, st := range s {
		if st.ID == id {
			return true
		}
	}
	return false
}

// StageData announces a newly published artifact.
type StageData struct {
	ID       StageID
	Artifact *artifact.Artifact
}

// RunFull asks every source stage to push its full-resolution artifact
// through the chain again.
type RunFull struct{}

// Topics of the stage registry.
var (
	TopicStructure = event.NewKey[Structure]("stage-structure-changed")
	TopicPreview   = event.NewKey[StageData]("stage-data")
	TopicFull      = event.NewKey[StageData]("stage-data-full")
	TopicRunFull   = event.NewKey[RunFull]("run-full-resolution")
)

// DataKey returns the data topic of tier.
func DataKey(t Tier) event.Key[StageData] {
	if t == TierFull {
		return TopicFull
	}
	return TopicPreview
}
