package rmsync

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// writeLock serializes the writers of a container. It is a binary
// semaphore rather than a sync.Mutex, so that acquisition can be
// abandoned when the caller's context ends. Once acquired, the lock
// is held until the write completes; there is no way to cancel a
// write in progress.
type writeLock struct {
	sem       *semaphore.Weighted
	writes    atomic.Int64
	contended Counter
}

func newWriteLock() *writeLock {
	return &writeLock{sem: semaphore.NewWeighted(1)}
}

func (l *writeLock) lock() {
	// Acquire with a background context never fails.
	_ = l.lockContext(context.Background())
}

func (l *writeLock) lockContext(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		l.writes.Add(1)
		return nil
	}
	l.contended.Inc()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.writes.Add(1)
	return nil
}

func (l *writeLock) unlock() {
	l.sem.Release(1)
}

// WriterStats describes writer lock usage of a container.
type WriterStats struct {
	// Writes is the number of writer lock acquisitions.
	Writes int64
	// ContendedWrites is the number of acquisitions that found
	// the lock held by another writer and had to wait.
	ContendedWrites int64
}

func (l *writeLock) stats() WriterStats {
	return WriterStats{
		Writes:          l.writes.Load(),
		ContendedWrites: l.contended.Value(),
	}
}
