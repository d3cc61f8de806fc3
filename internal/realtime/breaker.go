package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the state of the publish circuit breaker.
type BreakerState int

const (
	// BreakerClosed is the normal state - publishes go to the broker.
	BreakerClosed BreakerState = iota
	// BreakerOpen means consecutive failures exceeded the threshold -
	// publishes are skipped until a probe succeeds.
	BreakerOpen
)

// Breaker guards the external snapshot publisher against a dead broker.
// Consecutive publish failures trip it open; while open, publishes are
// skipped so finish requests never wait on broker timeouts. After the
// cooldown one publish per cooldown window is let through as a probe,
// and the first success closes the circuit again.
type Breaker struct {
	mu sync.Mutex

	// Configuration
	failureThreshold int
	cooldown         time.Duration
	logger           *slog.Logger

	// State
	state        BreakerState
	failures     int       // consecutive failures since last success
	openedAt     time.Time // when the circuit last opened or probed
	totalAllowed int64
	totalSkipped int64
}

// BreakerConfig holds configuration for the publish circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5
	FailureThreshold int

	// Cooldown is how long to wait while open before letting a probe
	// publish through. Default: 30 seconds
	Cooldown time.Duration

	// Logger for logging state transitions.
	Logger *slog.Logger
}

// NewBreaker creates a Breaker with the given configuration.
func NewBreaker(cfg *BreakerConfig) *Breaker {
	if cfg == nil {
		cfg = &BreakerConfig{}
	}

	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		failureThreshold: threshold,
		cooldown:         cooldown,
		logger:           logger,
		state:            BreakerClosed,
	}
}

// Allow reports whether a publish should be attempted now.
func (b *Breaker) Allow() bool {
	return b.AllowAt(time.Now())
}

// AllowAt reports whether a publish at the given time should be
// attempted. This variant is useful for testing with controlled
// timestamps.
func (b *Breaker) AllowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			b.totalSkipped++
			return false
		}
		// Probe: let one publish through and push the window forward so
		// further traffic keeps getting skipped until the probe resolves.
		b.openedAt = now
		b.totalAllowed++
		return true
	default:
		b.totalAllowed++
		return true
	}
}

// RecordSuccess notes a successful publish, closing the circuit if open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		b.logger.Info("publish circuit closed: broker recovered",
			"failures_before_recovery", b.failures,
		)
	}
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure notes a failed publish, opening the circuit once the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.RecordFailureAt(time.Now())
}

// RecordFailureAt is RecordFailure with a controlled timestamp.
func (b *Breaker) RecordFailureAt(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.logger.Warn("publish circuit opened: broker unhealthy",
			"consecutive_failures", b.failures,
			"threshold", b.failureThreshold,
			"cooldown", b.cooldown,
		)
	} else if b.state == BreakerOpen {
		// A failed probe keeps the circuit open for another cooldown.
		b.openedAt = now
	}
}

// State returns the current state of the breaker.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		TotalAllowed:        b.totalAllowed,
		TotalSkipped:        b.totalSkipped,
		Threshold:           b.failureThreshold,
	}
}

// BreakerStats holds breaker statistics.
type BreakerStats struct {
	State               BreakerState
	ConsecutiveFailures int
	TotalAllowed        int64
	TotalSkipped        int64
	Threshold           int
}

// Reset manually closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// String returns a human-readable state description.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}
