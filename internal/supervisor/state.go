// Package supervisor manages the lifecycle of the media worker process:
// launching it, tracking its connection state, and relaunching it with
// exponential backoff after a crash.
package supervisor

// State is the connection state of the worker as observed by the supervisor.
type State int

const (
	// StateDisconnected is the initial state, and the state after Stop or a
	// clean exit.
	StateDisconnected State = iota

	// StateConnecting indicates the worker was launched and has not yet sent
	// its first media record.
	StateConnecting

	// StateConnected indicates the worker is live and has reported media.
	StateConnected

	// StateReconnecting indicates the worker crashed and a relaunch is
	// pending or in progress.
	StateReconnecting

	// StateError indicates the worker could not be launched or did not
	// connect. Start may be called again.
	StateError
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive returns true if the supervisor owns or is about to own a worker.
func (s State) IsActive() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// IsTerminal returns true if no further transition happens without a call
// to Start.
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateError
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	return []State{StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateError}
}
