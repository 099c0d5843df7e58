package chatclient

import "testing"

func TestDeliveryTransitions(t *testing.T) {
	cases := []struct {
		from, to DeliveryState
		ok       bool
	}{
		{StateComposing, StatePending, true},
		{StateComposing, StateConfirmed, false},
		{StateComposing, StateFailed, false},
		{StatePending, StateConfirmed, true},
		{StatePending, StateFailed, true},
		{StatePending, StateComposing, false},
		{StateConfirmed, StateFailed, false},
		{StateConfirmed, StatePending, false},
		{StateFailed, StatePending, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%v -> %v = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestDeliveryTerminal(t *testing.T) {
	if StateComposing.Terminal() || StatePending.Terminal() {
		t.Fatal("composing and pending are not terminal")
	}
	if !StateConfirmed.Terminal() || !StateFailed.Terminal() {
		t.Fatal("confirmed and failed are terminal")
	}
}

func TestDeliveryString(t *testing.T) {
	if StatePending.String() != "pending" || StateFailed.String() != "failed" {
		t.Fatal("unexpected state names")
	}
}
