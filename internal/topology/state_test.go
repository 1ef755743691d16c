package topology

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	valid := [][2]State{
		{StateCreated, StateRunning},
		{StateRunning, StateExited},
		{StateExited, StateRestarting},
		{StateRestarting, StateRunning},
		{StateRunning, StateStopped},
		{StateExited, StateStopped},
		{StateStopped, StateRunning},
		{StateRunning, StateRunning},
	}
	for _, tr := range valid {
		if err := Transition(tr[0], tr[1]); err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tr[0], tr[1], err)
		}
	}

	invalid := [][2]State{
		{StateStopped, StateRestarting},
		{StateStopped, StateExited},
		{StateCreated, StateRestarting},
	}
	for _, tr := range invalid {
		if err := Transition(tr[0], tr[1]); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected invalid transition, got %v", tr[0], tr[1], err)
		}
	}
}

func TestStateLive(t *testing.T) {
	if !StateRunning.Live() || !StateRestarting.Live() {
		t.Error("running and restarting are live")
	}
	if StateStopped.Live() || StateExited.Live() {
		t.Error("stopped and exited are not live")
	}
}
