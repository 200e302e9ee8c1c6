// Package lock provides the two-tier mutual exclusion protecting each trade
// identifier: a process-local keyed lock serializing same-process handlers,
// and a database-backed advisory lock serializing separate process instances
// that share one Redis.
//
// The local lock is acquired first (cheap, instant for same-process races);
// the advisory lock only after it succeeds, and it is released before the
// local lock on the way out. Re-entrancy is context-scoped: a call chain
// that already holds a pos_id (the synthetic exit path) passes straight
// through instead of deadlocking.
package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/google/uuid"
)

// ErrContention is returned when either lock tier cannot be acquired within
// the configured bound. The operation must be abandoned and surfaced, never
// silently dropped.
var ErrContention = errors.New("lock contention")

// AdvisoryLocker is the cross-process lock backend.
// Acquire is non-blocking: it returns false when the key is held elsewhere.
type AdvisoryLocker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// Coordinator implements WithLock over both tiers.
type Coordinator struct {
	local    *keyedLock
	advisory AdvisoryLocker

	wait  time.Duration // bound on total acquisition wait per tier
	ttl   time.Duration // advisory lock lifetime (crash protection)
	retry time.Duration // advisory acquire polling interval
}

// NewCoordinator creates a Coordinator. advisory may be nil for single-process
// deployments (paper trading, tests of local-only behavior).
func NewCoordinator(advisory AdvisoryLocker, wait, ttl time.Duration) *Coordinator {
	return &Coordinator{
		local:    newKeyedLock(),
		advisory: advisory,
		wait:     wait,
		ttl:      ttl,
		retry:    50 * time.Millisecond,
	}
}

// Key maps a pos_id into the advisory lock namespace via a deterministic hash.
func Key(posID string) string {
	h := fnv.New64a()
	h.Write([]byte(posID))
	return fmt.Sprintf("lock:trade:%016x", h.Sum64())
}

type heldKey string

// WithLock runs fn while holding both lock tiers for posID. The locks are
// released on every exit path, including a panic inside fn. If the calling
// chain already holds posID, fn runs directly under the existing locks.
func (c *Coordinator) WithLock(ctx context.Context, posID string, fn func(ctx context.Context) error) error {
	if held, _ := ctx.Value(heldKey(posID)).(bool); held {
		return fn(ctx)
	}

	if !c.local.acquire(posID, c.wait) {
		return fmt.Errorf("local lock on %s: %w", posID, ErrContention)
	}
	defer c.local.release(posID)

	if c.advisory != nil {
		token := uuid.NewString()
		if err := c.acquireAdvisory(ctx, posID, token); err != nil {
			return err
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.advisory.Release(rctx, Key(posID), token); err != nil {
				log.Printf("[lock] advisory release failed for %s: %v (TTL will expire it)", posID, err)
			}
		}()
	}

	return fn(context.WithValue(ctx, heldKey(posID), true))
}

func (c *Coordinator) acquireAdvisory(ctx context.Context, posID, token string) error {
	key := Key(posID)
	deadline := time.Now().Add(c.wait)
	for {
		ok, err := c.advisory.Acquire(ctx, key, token, c.ttl)
		if err != nil {
			return fmt.Errorf("advisory acquire %s: %w", posID, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("advisory lock on %s: %w", posID, ErrContention)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("advisory lock on %s: %w", posID, ctx.Err())
		case <-time.After(c.retry):
		}
	}
}
