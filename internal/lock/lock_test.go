package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memAdvisory is an in-memory AdvisoryLocker shared between coordinators to
// simulate separate processes sharing one Redis.
type memAdvisory struct {
	mu   sync.Mutex
	held map[string]string // key -> token
}

func newMemAdvisory() *memAdvisory {
	return &memAdvisory{held: make(map[string]string)}
}

func (m *memAdvisory) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = token
	return true, nil
}

func (m *memAdvisory) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func TestKeyedLockBoundedWait(t *testing.T) {
	k := newKeyedLock()
	if !k.acquire("p1", 10*time.Millisecond) {
		t.Fatal("first acquire should succeed")
	}
	start := time.Now()
	if k.acquire("p1", 50*time.Millisecond) {
		t.Fatal("second acquire should time out")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("acquire returned after %v, should have waited the full bound", elapsed)
	}
	k.release("p1")
	if !k.acquire("p1", 10*time.Millisecond) {
		t.Fatal("acquire after release should succeed")
	}
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	k := newKeyedLock()
	if !k.acquire("p1", 10*time.Millisecond) {
		t.Fatal("acquire p1 failed")
	}
	if !k.acquire("p2", 10*time.Millisecond) {
		t.Fatal("holding p1 must not block p2")
	}
}

func TestWithLockRunsFn(t *testing.T) {
	c := NewCoordinator(nil, 100*time.Millisecond, time.Second)
	ran := false
	err := c.WithLock(context.Background(), "p1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
}

func TestWithLockReentrant(t *testing.T) {
	c := NewCoordinator(nil, 50*time.Millisecond, time.Second)
	inner := false
	err := c.WithLock(context.Background(), "p1", func(ctx context.Context) error {
		// Same pos_id on the same call chain must pass straight through
		// instead of deadlocking against itself.
		return c.WithLock(ctx, "p1", func(ctx context.Context) error {
			inner = true
			return nil
		})
	})
	if err != nil {
		t.Fatalf("reentrant WithLock: %v", err)
	}
	if !inner {
		t.Fatal("inner fn did not run")
	}
}

func TestWithLockLocalContention(t *testing.T) {
	c := NewCoordinator(nil, 30*time.Millisecond, time.Second)
	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.WithLock(context.Background(), "p1", func(ctx context.Context) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding

	err := c.WithLock(context.Background(), "p1", func(ctx context.Context) error {
		t.Error("fn must not run while the lock is held elsewhere")
		return nil
	})
	close(done)
	if !errors.Is(err, ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
}

func TestAdvisoryMutualExclusionAcrossCoordinators(t *testing.T) {
	// Two coordinators sharing one advisory namespace stand in for two
	// engine processes sharing one Redis.
	adv := newMemAdvisory()
	c1 := NewCoordinator(adv, 100*time.Millisecond, time.Second)
	c2 := NewCoordinator(adv, 100*time.Millisecond, time.Second)
	c2.retry = 5 * time.Millisecond

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c1.WithLock(context.Background(), "p1", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	var order []int
	var mu sync.Mutex
	second := make(chan error, 1)
	go func() {
		second <- c2.WithLock(context.Background(), "p1", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("holder WithLock: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("waiter WithLock: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("waiter ran before the holder released: order=%v", order)
	}
}

func TestAdvisoryContentionBounded(t *testing.T) {
	adv := newMemAdvisory()
	c1 := NewCoordinator(adv, 500*time.Millisecond, time.Second)
	c2 := NewCoordinator(adv, 40*time.Millisecond, time.Second)
	c2.retry = 10 * time.Millisecond

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		c1.WithLock(context.Background(), "p1", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := c2.WithLock(context.Background(), "p1", func(ctx context.Context) error {
		t.Error("fn must not run, advisory lock is held by the other coordinator")
		return nil
	})
	if !errors.Is(err, ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
}

func TestAdvisoryReleasedAfterFn(t *testing.T) {
	adv := newMemAdvisory()
	c := NewCoordinator(adv, 50*time.Millisecond, time.Second)
	for i := 0; i < 3; i++ {
		if err := c.WithLock(context.Background(), "p1", func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	adv.mu.Lock()
	defer adv.mu.Unlock()
	if len(adv.held) != 0 {
		t.Fatalf("advisory keys leaked: %v", adv.held)
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	c := NewCoordinator(nil, 50*time.Millisecond, time.Second)
	func() {
		defer func() { recover() }()
		c.WithLock(context.Background(), "p1", func(ctx context.Context) error {
			panic("boom")
		})
	}()
	if err := c.WithLock(context.Background(), "p1", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released after panic: %v", err)
	}
}

func TestKeyDeterministic(t *testing.T) {
	if Key("p1") != Key("p1") {
		t.Error("Key must be deterministic")
	}
	if Key("p1") == Key("p2") {
		t.Error("distinct pos_ids should map to distinct keys")
	}
}
