package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is matched by every rejection caused by an open breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrFallbackResultType is returned when a fallback result does not match the call's result type
	ErrFallbackResultType = errors.New("circuit breaker fallback returned unexpected result type")
)

// OpenError is returned instead of running the operation while the breaker is open
// or while another call is probing a half-open breaker.
type OpenError struct {
	Name        string
	NextRetryAt time.Time
}

func (e *OpenError) Error() string {
	if e.NextRetryAt.IsZero() {
		return fmt.Sprintf("circuit breaker %q is open: trial in flight", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.NextRetryAt.Format(time.RFC3339))
}

func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}

// IsOpen checks if an error was caused by an open circuit breaker
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
