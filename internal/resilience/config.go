package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Zero values keep
// the defaults.
func FromRetryConfig(maxAttempts, initialBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
// A threshold of zero or less disables the breaker and returns ok=false.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) (CircuitBreakerConfig, bool) {
	if failureThreshold <= 0 {
		return CircuitBreakerConfig{}, false
	}
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = failureThreshold
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg, true
}
