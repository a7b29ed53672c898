package statestore

// Streaming lifecycle states. completed and error are terminal until an
// explicit reset back to idle.
const (
	StreamIdle      = "idle"
	StreamStarting  = "starting"
	StreamActive    = "active"
	StreamFinishing = "finishing"
	StreamCompleted = "completed"
	StreamError     = "error"
)

// streamingTransitions lists every allowed edge of the streaming state machine
var streamingTransitions = map[string][]string{
	StreamIdle:      {StreamStarting, StreamError},
	StreamStarting:  {StreamActive, StreamError, StreamIdle},
	StreamActive:    {StreamFinishing, StreamError, StreamIdle},
	StreamFinishing: {StreamCompleted, StreamError, StreamIdle},
	StreamCompleted: {StreamIdle},
	StreamError:     {StreamIdle},
}

// isValidStreamTransition reports whether from -> to is an allowed edge.
// A no-op transition to the same state is not an edge and is rejected.
func isValidStreamTransition(from, to string) bool {
	for _, allowed := range streamingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
