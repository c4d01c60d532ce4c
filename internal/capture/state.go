package capture

// State is the lifecycle state of a capture session.
//
// AwaitingBuffer -> OperatingSync <-> OperatingAsync -> Stopping ->
// StoppingCallbackPending -> OperatingSync; any state -> ShutDown
// (terminal).
type State int32

const (
	// StateAwaitingBuffer is the initial state. The format may be set;
	// no mixing occurs.
	StateAwaitingBuffer State = iota

	// StateOperatingSync means the client supplies discrete capture
	// buffers via Enqueue and the mix loop drains them opportunistically.
	StateOperatingSync

	// StateOperatingAsync means the mix loop self-generates pending
	// buffers of the configured packet size.
	StateOperatingAsync

	// StateStopping means an async stop was requested and will be
	// processed on the next mix-loop wake.
	StateStopping

	// StateStoppingCallbackPending means filled buffers are being
	// delivered and the stop callback is about to run.
	StateStoppingCallbackPending

	// StateShutDown is terminal: all resources released exactly once.
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateAwaitingBuffer:
		return "awaiting_buffer"
	case StateOperatingSync:
		return "operating_sync"
	case StateOperatingAsync:
		return "operating_async"
	case StateStopping:
		return "stopping"
	case StateStoppingCallbackPending:
		return "stopping_callback_pending"
	case StateShutDown:
		return "shut_down"
	default:
		return "invalid"
	}
}
