package market

import (
	"sync"
	"time"

	"github.com/industriverse/trustcore/clock"
)

// BreakerState tracks a resolver's circuit-breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"    // normal operation
	BreakerOpen     BreakerState = "open"      // tripped, resolver excluded from auctions
	BreakerHalfOpen BreakerState = "half_open" // probing after cooldown
)

// Breaker guards one resolver: repeated assignment failures or a trust-floor
// breach trip it, excluding the resolver from auction candidacy until the
// cooldown elapses.
type Breaker struct {
	ResolverID       string
	FailureCount     int
	FailureThreshold int
	TrustFloor       float64
	CooldownPeriod   time.Duration
	State            BreakerState
	LastTripped      time.Time
}

// BreakerSet manages breakers for all known resolvers. Safe for concurrent
// use.
type BreakerSet struct {
	failureThreshold int
	trustFloor       float64
	cooldown         time.Duration
	clock            clock.Clock

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet builds a breaker set. A failureThreshold of 3, trustFloor of
// 0.2, and cooldown of 30 minutes are reasonable production values.
func NewBreakerSet(failureThreshold int, trustFloor float64, cooldown time.Duration, clk clock.Clock) *BreakerSet {
	if clk == nil {
		clk = clock.System{}
	}
	return &BreakerSet{
		failureThreshold: failureThreshold,
		trustFloor:       trustFloor,
		cooldown:         cooldown,
		clock:            clk,
		breakers:         make(map[string]*Breaker),
	}
}

func (s *BreakerSet) breaker(resolverID string) *Breaker {
	b, ok := s.breakers[resolverID]
	if !ok {
		b = &Breaker{
			ResolverID:       resolverID,
			FailureThreshold: s.failureThreshold,
			TrustFloor:       s.trustFloor,
			CooldownPeriod:   s.cooldown,
			State:            BreakerClosed,
		}
		s.breakers[resolverID] = b
	}
	return b
}

// RecordFailure counts a failed assignment and reports whether the breaker
// tripped.
func (s *BreakerSet) RecordFailure(resolverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.breaker(resolverID)
	b.FailureCount++
	if b.FailureCount >= b.FailureThreshold {
		b.State = BreakerOpen
		b.LastTripped = s.clock.Now()
		return true
	}
	return false
}

// RecordSuccess resets the resolver's failure count and closes its breaker.
func (s *BreakerSet) RecordSuccess(resolverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.breaker(resolverID)
	b.FailureCount = 0
	b.State = BreakerClosed
}

// CheckTrustDrop trips the breaker when the resolver's success rate falls
// below the floor, and reports whether it tripped.
func (s *BreakerSet) CheckTrustDrop(resolverID string, successRate float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.breaker(resolverID)
	if successRate < b.TrustFloor {
		b.State = BreakerOpen
		b.LastTripped = s.clock.Now()
		return true
	}
	return false
}

// Allowed reports whether the resolver may currently be invited to auctions.
// An open breaker transitions to half-open after the cooldown, admitting one
// probe assignment.
func (s *BreakerSet) Allowed(resolverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[resolverID]
	if !ok {
		return true
	}
	switch b.State {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if s.clock.Now().Sub(b.LastTripped) > b.CooldownPeriod {
			b.State = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// StateOf returns the resolver's current breaker state.
func (s *BreakerSet) StateOf(resolverID string) BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[resolverID]
	if !ok {
		return BreakerClosed
	}
	return b.State
}
