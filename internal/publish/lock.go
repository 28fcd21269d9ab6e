// Package publish coordinates publish-batch runs: the per-kind lock, the
// activity ledger, the batch orchestrator, the search-index sync, and the
// admin HTTP surface that drives them.
package publish

import "sync"

// Lock serializes runs per batch kind. Kinds are independent: a sitemap
// batch and a search sync may run at the same time, but never two runs of
// the same kind. Process-wide only; multi-instance deployments would need a
// distributed primitive instead.
type Lock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLock creates an empty Lock.
func NewLock() *Lock {
	return &Lock{held: make(map[string]bool)}
}

// TryAcquire claims kind and returns true, or returns false immediately when
// a run of that kind already holds it. There is no queueing.
func (l *Lock) TryAcquire(kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[kind] {
		return false
	}
	l.held[kind] = true
	return true
}

// Release frees kind. Releasing an unheld kind is a no-op so error paths can
// release unconditionally.
func (l *Lock) Release(kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, kind)
}
