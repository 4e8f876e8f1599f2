// Package admission controls how much work enters the system: a per-user
// token bucket on inbound messages and a bounded blocking gate on outbound
// provider calls.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	staleThreshold  = 10 * time.Minute
)

// ErrRejected is returned when a user's inbound message exceeds their rate
// allowance. Rejection is immediate; inbound messages never queue here.
var ErrRejected = errors.New("message rate limit exceeded")

// ErrAcquireTimeout is returned when an outbound slot could not be acquired
// within the configured wait.
var ErrAcquireTimeout = errors.New("timed out waiting for an outbound slot")

// UserLimiter rate-limits inbound messages per user with a token bucket
// each. Stale buckets are evicted inline during Allow calls.
type UserLimiter struct {
	mu          sync.Mutex
	users       map[string]*userBucket
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter creates a limiter refilling r tokens per second with the
// given burst.
func NewUserLimiter(r float64, burst int) (*UserLimiter, error) {
	if r <= 0 || burst <= 0 {
		return nil, fmt.Errorf("user limiter: rate and burst must be positive, got %f/%d", r, burst)
	}
	return &UserLimiter{
		users:       make(map[string]*userBucket),
		limit:       rate.Limit(r),
		burst:       burst,
		lastCleanup: time.Now(),
	}, nil
}

// Allow reports whether a message from the user may proceed. When it
// returns false the caller should tell the user to slow down; the message
// is dropped, not queued.
func (ul *UserLimiter) Allow(userID string) error {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	now := time.Now()
	if now.Sub(ul.lastCleanup) > cleanupInterval {
		for id, b := range ul.users {
			if now.Sub(b.lastSeen) > staleThreshold {
				delete(ul.users, id)
			}
		}
		ul.lastCleanup = now
	}

	b, ok := ul.users[userID]
	if !ok {
		limiter := rate.NewLimiter(ul.limit, ul.burst)
		ul.users[userID] = &userBucket{limiter: limiter, lastSeen: now}
		limiter.Allow()
		return nil
	}

	b.lastSeen = now
	if !b.limiter.Allow() {
		return fmt.Errorf("%w: user %s", ErrRejected, userID)
	}
	return nil
}

// Gate bounds concurrent outbound work. Acquire blocks until a slot frees
// up or the wait budget expires.
type Gate struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewGate creates a Gate with the given concurrency and maximum wait.
func NewGate(concurrency int, maxWait time.Duration) (*Gate, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("gate: concurrency must be positive, got %d", concurrency)
	}
	if maxWait <= 0 {
		return nil, fmt.Errorf("gate: max wait must be positive, got %v", maxWait)
	}
	return &Gate{
		slots:   make(chan struct{}, concurrency),
		maxWait: maxWait,
	}, nil
}

// Acquire claims an outbound slot, blocking up to the configured wait.
// Release the returned func exactly once when the work is done.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()

	select {
	case g.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-g.slots }) }, nil
	case <-timer.C:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports the number of currently held slots.
func (g *Gate) InFlight() int {
	return len(g.slots)
}
