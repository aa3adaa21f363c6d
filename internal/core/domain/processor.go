package domain

// ProcessorState is the lifecycle state of a snapshot capture.
//
//	Created -> Running -> Draining -> Completed
//	Running -> Cancelling -> Cancelled
//	any     -> Disposed
type ProcessorState string

// Capture states.
const (
	ProcessorCreated    ProcessorState = "created"
	ProcessorRunning    ProcessorState = "running"
	ProcessorDraining   ProcessorState = "draining"
	ProcessorCompleted  ProcessorState = "completed"
	ProcessorCancelling ProcessorState = "cancelling"
	ProcessorCancelled  ProcessorState = "cancelled"
	ProcessorDisposed   ProcessorState = "disposed"
)

// IsTerminal reports whether no further transition can happen.
func (s ProcessorState) IsTerminal() bool {
	switch s {
	case ProcessorCompleted, ProcessorCancelled, ProcessorDisposed:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (s ProcessorState) String() string {
	return string(s)
}

// CanTransition reports whether moving from s to next is legal.
func (s ProcessorState) CanTransition(next ProcessorState) bool {
	if next == ProcessorDisposed {
		return s != ProcessorDisposed
	}
	switch s {
	case ProcessorCreated:
		return next == ProcessorRunning || next == ProcessorCancelling
	case ProcessorRunning:
		return next == ProcessorDraining || next == ProcessorCancelling
	case ProcessorDraining:
		return next == ProcessorCompleted || next == ProcessorCancelling
	case ProcessorCancelling:
		return next == ProcessorCancelled
	default:
		return false
	}
}
