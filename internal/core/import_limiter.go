package core

// import_limiter.go bounds the number of import runs a process executes at
// once. The catalog is replaced wholesale by every run, so the service uses a
// capacity of one and rejects a second run immediately with
// ErrImportInProgress. Cross-process serialisation is the CatalogLocker's
// job.
//
// WaitForDrain supports graceful shutdown by blocking until running imports
// complete.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentImports is the default number of parallel runs.
const DefaultMaxConcurrentImports = 1

// ImportLimiter controls concurrent import runs using a semaphore.
type ImportLimiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

// NewImportLimiter creates a limiter that allows at most maxConcurrent
// simultaneous runs.
func NewImportLimiter(maxConcurrent int) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// TryAcquire takes a slot without blocking. Returns ErrImportInProgress when
// none is free.
func (l *ImportLimiter) TryAcquire() error {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	default:
		return ErrImportInProgress
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful TryAcquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

func (l *ImportLimiter) activeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all running imports complete or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.activeCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a snapshot of the limiter's state.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return ImportLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
