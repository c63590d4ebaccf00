package kmsgl

import (
	"fmt"
)

// SlotState is the position of a FrameSlot in the presentation cycle.
type SlotState int

const (
	Free SlotState = iota
	Rendering
	Submitted
	OnScreen
)

var slotStateNames = [...]string{
	Free:      "free",
	Rendering: "rendering",
	Submitted: "submitted",
	OnScreen:  "on-screen",
}

func (s SlotState) String() string {
	if s >= 0 && int(s) < len(slotStateNames) {
		return slotStateNames[s]
	}
	return fmt.Sprintf("slot-state(%d)", int(s))
}

// validTransitions lists the moves of the presentation cycle.
// Rendering -> OnScreen is the blocking mode-set of the first frame.
// Rendering -> Free abandons a frame whose draw failed.
// OnScreen -> Rendering is checked separately, see FrameSlot.transition.
var validTransitions = map[SlotState][]SlotState{
	Free:      {Rendering},
	Rendering: {Submitted, OnScreen, Free},
	Submitted: {OnScreen},
	OnScreen:  {Free},
}

// FrameSlot is one element of the buffer chain.
type FrameSlot struct {
	Index       int
	Buffer      BufferID
	Framebuffer *DisplayFramebuffer
	Surface     *ImportedSurface
	State       SlotState
}

// Transition records one state change of one slot.
type Transition struct {
	Slot     int
	From, To SlotState
}

func (t Transition) String() string {
	return fmt.Sprintf("slot %d: %s -> %s", t.Slot, t.From, t.To)
}

// transition moves the slot to state to. reusable allows OnScreen ->
// Rendering, which is only safe for a single slot whose last flip completed.
func (s *FrameSlot) transition(to SlotState, reusable bool) (Transition, error) {
	t := Transition{Slot: s.Index, From: s.State, To: to}
	if s.State == OnScreen && to == Rendering && reusable {
		s.State = to
		return t, nil
	}
	for _, next := range validTransitions[s.State] {
		if next == to {
			s.State = to
			return t, nil
		}
	}
	return t, NewError(InvalidTransition, "transition", fmt.Sprintf("slot %d", s.Index),
		fmt.Errorf("%s -> %s", t.From, t.To))
}
