package convergence

import "sync"

// lockRegistry hands out one mutex per token mint. Two concurrent runs on
// the same token would race on the re-read quantity and double-submit
// chunks, so the second caller is refused rather than queued.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

// tryAcquire attempts to take the token's lock without blocking.
// Returns a release func on success, nil if the token is already held.
func (r *lockRegistry) tryAcquire(token string) func() {
	r.mu.Lock()
	l, ok := r.locks[token]
	if !ok {
		l = &sync.Mutex{}
		r.locks[token] = l
	}
	r.mu.Unlock()

	if !l.TryLock() {
		return nil
	}
	return l.Unlock
}
