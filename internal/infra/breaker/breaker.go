package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// OpenTimeout is how long an open breaker refuses calls before it lets a
// trial request through.
const OpenTimeout = 30 * time.Second

// New returns a breaker that opens once at least 3 requests were seen in the
// current window and 60% of them failed.
func New(name string) *gobreaker.CircuitBreaker[[]byte] {
	var st gobreaker.Settings
	st.Name = name
	st.Timeout = OpenTimeout
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && failureRatio >= 0.6
	}

	return gobreaker.NewCircuitBreaker[[]byte](st)
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
