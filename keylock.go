package rmsync

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks is a registry of per-key writer locks. An entry lives as
// long as at least one goroutine holds or waits for it and is
// removed by the last one to release it.
type keyLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int // guarded by keyLocks.mu
}

func (r *keyLocks[K]) acquire(ctx context.Context, key K) (*keyLock, error) {
	r.mu.Lock()
	if r.locks == nil {
		r.locks = make(map[K]*keyLock)
	}
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		r.locks[key] = kl
	}
	kl.refs++
	r.mu.Unlock()

	if err := kl.sem.Acquire(ctx, 1); err != nil {
		r.unref(key, kl)
		return nil, err
	}
	return kl, nil
}

func (r *keyLocks[K]) release(key K, kl *keyLock) {
	kl.sem.Release(1)
	r.unref(key, kl)
}

func (r *keyLocks[K]) unref(key K, kl *keyLock) {
	r.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(r.locks, key)
	}
	r.mu.Unlock()
}

func (r *keyLocks[K]) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
