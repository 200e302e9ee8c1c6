package lock

import (
	"sync"
	"time"
)

// keyedLock is a per-key binary semaphore with bounded-wait acquisition.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]chan struct{})}
}

func (k *keyedLock) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

// acquire takes the slot for key, waiting at most wait. Returns false on timeout.
func (k *keyedLock) acquire(key string, wait time.Duration) bool {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (k *keyedLock) release(key string) {
	<-k.slot(key)
}
