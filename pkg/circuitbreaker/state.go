package circuitbreaker

// State represents the current state of a circuit breaker
type State int

const (
	// StateClosed lets every call through and counts consecutive failures
	StateClosed State = iota
	// StateOpen rejects calls without running them until the reset timeout elapses
	StateOpen
	// StateHalfOpen lets exactly one trial call through
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
