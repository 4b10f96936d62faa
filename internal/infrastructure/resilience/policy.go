package resilience

import (
	"strings"
	"time"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// OperationRetries overrides RetryMaxAttempts for operations whose name
	// starts with the key. The longest matching prefix wins.
	OperationRetries map[string]int

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// RetrievalBackends prefix the operations issued by retrievers.
var RetrievalBackends = []string{"qdrant.", "elasticsearch.", "neo4j."}

// RetrievalRetries caps retrieval backend calls at attempts each. The
// coordinator decides whether a whole strategy is retried.
func RetrievalRetries(attempts int) map[string]int {
	out := make(map[string]int, len(RetrievalBackends))
	for _, prefix := range RetrievalBackends {
		out[prefix] = attempts
	}
	return out
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,
		OperationRetries:    RetrievalRetries(1),

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if len(c.OperationRetries) > 0 {
		out.OperationRetries = make(map[string]int, len(c.OperationRetries))
		for prefix, attempts := range c.OperationRetries {
			if attempts < 1 {
				attempts = 1
			}
			out.OperationRetries[prefix] = attempts
		}
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return out
}

func (c Config) attemptsFor(operation string) int {
	attempts := c.RetryMaxAttempts
	matched := -1
	for prefix, n := range c.OperationRetries {
		if strings.HasPrefix(operation, prefix) && len(prefix) > matched {
			attempts, matched = n, len(prefix)
		}
	}
	return attempts
}
