package asyncmc

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker shields a server from request storms while it is failing.
// Semantic results (ErrKeyNotFound, ErrKeyExists) do not count as
// failures; only transport and protocol errors trip the breaker.
type CircuitBreaker = gobreaker.CircuitBreaker[bool]

// NewCircuitBreakerConfig returns a factory creating one breaker per
// server address, for ClientConfig.NewCircuitBreaker. The breaker opens
// once at least 3 requests were seen in the interval and 60% of them
// failed.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *CircuitBreaker {
	return func(serverAddr string) *CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
