package converter

import (
	"fmt"
	"time"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
)

// State is the worker state of a Converter.
type State int32

const (
	// StateIdle means the worker is waiting for an item.
	StateIdle State = iota

	// StateConverting means an item is being decoded.
	StateConverting

	// StatePublishing means a decoded artifact is being handed to the sink.
	StatePublishing

	// StateFailed means the current item failed; the worker returns to Idle next.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConverting:
		return "converting"
	case StatePublishing:
		return "publishing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "converting":
		*s = StateConverting
	case "publishing":
		*s = StatePublishing
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown converter state %q", text)
	}
	return nil
}

// Started announces that the worker picked up an item.
type Started struct {
	Converter string
	Source    string
}

// Result is a successful conversion.
type Result struct {
	Converter string
	Source    string
	Artifact  *artifact.Artifact
	Elapsed   time.Duration
}

// Failure is a failed conversion.
type Failure struct {
	Converter string
	Source    string
	Err       string
}

// StateChange announces a worker state transition.
type StateChange struct {
	Converter string
	From      State
	To        State
}

// Converter lifecycle topics.
var (
	TopicStarted  = event.NewKey[Started]("converter-started")
	TopicFinished = event.NewKey[Result]("converter-finished")
	TopicFailed   = event.NewKey[Failure]("converter-failed")
	TopicState    = event.NewKey[StateChange]("converter-state")
)
