package kmsgl

import (
	"errors"
	"testing"
)

func TestSlotTransitions(t *testing.T) {
	tests := []struct {
		from, to SlotState
		reusable bool
		ok       bool
	}{
		{Free, Rendering, false, true},
		{Rendering, Submitted, false, true},
		{Rendering, OnScreen, false, true},
		{Rendering, Free, false, true},
		{Submitted, OnScreen, false, true},
		{OnScreen, Free, false, true},
		{OnScreen, Rendering, true, true},

		{Free, Submitted, false, false},
		{Free, OnScreen, false, false},
		{Submitted, Rendering, false, false},
		{Submitted, Rendering, true, false},
		{Submitted, Free, false, false},
		{OnScreen, Rendering, false, false},
		{OnScreen, Submitted, false, false},
	}

	for _, tt := range tests {
		slot := &FrameSlot{Index: 1, State: tt.from}
		tr, err := slot.transition(tt.to, tt.reusable)
		if tt.ok {
			if err != nil {
				t.Errorf("%s -> %s: %v", tt.from, tt.to, err)
			}
			if slot.State != tt.to || tr.From != tt.from || tr.To != tt.to {
				t.Errorf("%s -> %s: slot in %s, transition %v", tt.from, tt.to, slot.State, tr)
			}
			continue
		}
		if !errors.Is(err, InvalidTransition) {
			t.Errorf("%s -> %s: err = %v, want InvalidTransition", tt.from, tt.to, err)
		}
		if slot.State != tt.from {
			t.Errorf("%s -> %s: rejected transition changed state to %s", tt.from, tt.to, slot.State)
		}
	}
}
