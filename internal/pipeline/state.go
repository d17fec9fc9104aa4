package pipeline

import (
	"slices"

	"github.com/dunamismax/cropflow/internal/errs"
)

// State is a step of one pipeline invocation.
type State string

const (
	StateIdle          State = "idle"
	StateDecoding      State = "decoding"
	StateCropPending   State = "crop_pending"
	StateCropAdjusting State = "crop_adjusting"
	StateRendering     State = "rendering"
	StateCompressing   State = "compressing"
	StateUploading     State = "uploading"
	StateDone          State = "done"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// transitions lists the legal next states. Compressing only fails when no encode
// produced any output at all, which is an environment fault rather than a
// property of the image. Failed -> Uploading is the upload-only retry.
var transitions = map[State][]State{
	StateIdle:          {StateDecoding},
	StateDecoding:      {StateCropPending, StateRendering, StateFailed, StateCancelled},
	StateCropPending:   {StateCropAdjusting, StateRendering, StateCancelled},
	StateCropAdjusting: {StateCropAdjusting, StateCropPending, StateRendering, StateCancelled},
	StateRendering:     {StateCompressing, StateFailed, StateCancelled},
	StateCompressing:   {StateUploading, StateFailed, StateCancelled},
	StateUploading:     {StateDone, StateFailed},
	StateFailed:        {StateUploading},
}

func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// Terminal reports whether no further work happens without an explicit retry.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// trail records every state an invocation visits.
type trail struct {
	states []State
}

func newTrail() *trail {
	return &trail{states: []State{StateIdle}}
}

func (t *trail) current() State {
	return t.states[len(t.states)-1]
}

func (t *trail) enter(to State) error {
	from := t.current()
	if !from.CanTransition(to) {
		return errs.Newf(errs.KindConflict, "pipeline.state", "cannot move from %s to %s", from, to)
	}
	t.states = append(t.states, to)
	return nil
}

func (t *trail) snapshot() []State {
	return slices.Clone(t.states)
}
