package peer

import "testing"

// --------------------------------------------------------------------------------------------- //

func TestCanTransitionAllowsDialPath(t *testing.T) {
	path := []State{Resolving, Connecting, HandshakeSent, Established, Closing, Closed}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func TestCanTransitionRejectsSkippingStates(t *testing.T) {
	if CanTransition(Resolving, Established) {
		t.Error("Resolving -> Established should be illegal")
	}
	if CanTransition(Closed, Resolving) {
		t.Error("Closed should have no outgoing transitions")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestCanTransitionAllowsClosingFromAnyLiveState(t *testing.T) {
	for _, s := range []State{Resolving, Connecting, HandshakeSent, Established} {
		if !CanTransition(s, Closing) {
			t.Errorf("expected %s -> Closing to be legal", s)
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func TestStateStringUnknown(t *testing.T) {
	var s State = 99
	if s.String() != "unknown(99)" {
		t.Errorf("String() = %q, want unknown(99)", s.String())
	}
}
