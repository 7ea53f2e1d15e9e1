package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Breaker is a session-level circuit breaker: it trips once a session
// accumulates maxErrors upstream or tool errors within window
// (spec §5, recommended 5 errors / 10 s). It is built on
// golang.org/x/time/rate's token bucket rather than a tumbling counter so
// the error budget refills continuously — a session that errors once every
// few seconds forever never trips, only a burst does.
type Breaker struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	tripped bool
}

// NewBreaker returns a Breaker with the given threshold. maxErrors <= 0
// defaults to 5, window <= 0 defaults to 10s, matching spec §5's
// recommendation.
func NewBreaker(maxErrors int, window time.Duration) *Breaker {
	if maxErrors <= 0 {
		maxErrors = 5
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Breaker{limiter: rate.NewLimiter(rate.Every(window/time.Duration(maxErrors)), maxErrors-1)}
}

// RecordError reports one error against the session's budget and returns
// whether the breaker is now tripped. A tripped breaker never recovers
// (spec §7: CircuitBreakerTripped is fatal for the session, so there is no
// session left for it to recover in).
func (b *Breaker) RecordError() (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return true
	}
	if !b.limiter.Allow() {
		b.tripped = true
	}
	return b.tripped
}

// Tripped reports the breaker's latched state without consuming budget.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}
