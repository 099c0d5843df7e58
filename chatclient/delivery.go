package chatclient

import "fmt"

// DeliveryState tracks a locally authored message through its lifecycle.
// The states are strictly ordered: composing precedes pending, pending
// resolves to exactly one of confirmed or failed, and both outcomes are
// terminal.
type DeliveryState int

const (
	// StateComposing is the draft stage, before the send is issued.
	StateComposing DeliveryState = iota
	// StatePending means the message is rendered optimistically and the
	// send is in flight.
	StatePending
	// StateConfirmed means the server acknowledged the message and the
	// canonical copy replaced the optimistic one.
	StateConfirmed
	// StateFailed means the send errored; the optimistic entry was
	// rolled back.
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StateComposing:
		return "composing"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
}

// CanTransition reports whether moving from s to next is a legal step.
// Terminal states admit no transitions, and a pending send never goes
// back to composing.
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	switch s {
	case StateComposing:
		return next == StatePending
	case StatePending:
		return next == StateConfirmed || next == StateFailed
	default:
		return false
	}
}

// Terminal reports whether s is an end state.
func (s DeliveryState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}
