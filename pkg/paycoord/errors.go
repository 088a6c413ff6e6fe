package paycoord

import "fmt"

// StateError reports an operation attempted from a lifecycle state that does
// not admit it, e.g. opening an already-active session.
type StateError struct {
	Op    string
	State SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %q", e.Op, e.State)
}
