package renderstate

import "fmt"

// Action is what the render driver has to do with a tile.
type Action uint8

const (
	ActionNone Action = iota
	ActionRender
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRender:
		return "render"
	case ActionDelete:
		return "delete"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// BoundsSituation places a tile relative to the current world bounds.
type BoundsSituation uint8

const (
	Inside BoundsSituation = iota
	Edge
	Outside
)

func (b BoundsSituation) String() string {
	switch b {
	case Inside:
		return "inside"
	case Edge:
		return "edge"
	case Outside:
		return "outside"
	}
	return fmt.Sprintf("bounds(%d)", uint8(b))
}

// InvariantViolation is panicked when the state machine is fed a value
// outside its closed enumerations.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.What }

// TileState is the persisted render state of one tile.
type TileState uint8

const (
	Unknown TileState = iota
	Rendered
	RenderedEdge
	OutOfBounds
	NotGenerated
	MissingLight
	LowInhabitedTime
	ChunkError
	RenderError

	numStates
)

var stateKeys = [numStates]string{
	Unknown:          "voxelmap:unknown",
	Rendered:         "voxelmap:rendered",
	RenderedEdge:     "voxelmap:rendered_edge",
	OutOfBounds:      "voxelmap:out_of_bounds",
	NotGenerated:     "voxelmap:not_generated",
	MissingLight:     "voxelmap:missing_light",
	LowInhabitedTime: "voxelmap:low_inhabited_time",
	ChunkError:       "voxelmap:chunk_error",
	RenderError:      "voxelmap:render_error",
}

// AllStates lists every state in declaration order.
func AllStates() []TileState {
	out := make([]TileState, numStates)
	for i := range out {
		out[i] = TileState(i)
	}
	return out
}

func (s TileState) Valid() bool { return s < numStates }

// Key is the stable persisted identifier of the state.
func (s TileState) Key() string {
	if !s.Valid() {
		return fmt.Sprintf("voxelmap:invalid_%d", uint8(s))
	}
	return stateKeys[s]
}

func (s TileState) String() string { return s.Key() }

// renderedFor is the state a successful render leads to.
func renderedFor(b BoundsSituation) (Action, TileState) {
	switch b {
	case Inside:
		return ActionRender, Rendered
	case Edge:
		return ActionRender, RenderedEdge
	default:
		return ActionDelete, OutOfBounds
	}
}

// Transition decides the action for a tile currently in state s. It panics
// with *InvariantViolation on values outside the enumerations.
func (s TileState) Transition(changed bool, b BoundsSituation) (Action, TileState) {
	if b > Outside {
		panic(&InvariantViolation{What: fmt.Sprintf("unexpected bounds situation %d", uint8(b))})
	}
	switch s {
	case Rendered:
		if b == Inside && !changed {
			return ActionNone, Rendered
		}
		return renderedFor(b)
	case RenderedEdge:
		if b == Edge && !changed {
			return ActionNone, RenderedEdge
		}
		return renderedFor(b)
	case OutOfBounds:
		if b == Outside {
			return ActionNone, OutOfBounds
		}
		return renderedFor(b)
	case RenderError:
		return renderedFor(b)
	case Unknown, NotGenerated, MissingLight, LowInhabitedTime, ChunkError:
		if !changed {
			return ActionNone, s
		}
		return renderedFor(b)
	}
	panic(&InvariantViolation{What: fmt.Sprintf("unexpected tile state %d", uint8(s))})
}

// StateRegistry resolves persisted keys back to states.
type StateRegistry struct {
	byKey map[string]TileState
}

func NewStateRegistry() *StateRegistry {
	r := &StateRegistry{byKey: make(map[string]TileState, numStates)}
	for _, s := range AllStates() {
		r.byKey[s.Key()] = s
	}
	return r
}

func (r *StateRegistry) Lookup(key string) (TileState, bool) {
	s, ok := r.byKey[key]
	return s, ok
}

// Resolve maps unknown keys to Unknown.
func (r *StateRegistry) Resolve(key string) TileState {
	if s, ok := r.byKey[key]; ok {
		return s
	}
	return Unknown
}
