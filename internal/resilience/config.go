package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, baseDelayMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseDelayMs >= 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	return cfg
}
