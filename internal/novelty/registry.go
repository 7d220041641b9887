package novelty

import (
	"fmt"
	"sync"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Persister receives every fingerprint the registry accepts.
type Persister interface {
	AddFingerprint(fp scenario.Fingerprint) error
}

// #region registry
// Registry is the set of scenario fingerprints already explored in a run.
// It only grows. All methods are safe for concurrent use, and TryAdd is the
// atomic check-and-insert every producer of new scenarios must go through.
type Registry struct {
	mu         sync.Mutex
	seen       map[scenario.Fingerprint]struct{}
	persister  Persister
	persistErr error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[scenario.Fingerprint]struct{})}
}

// WithPersister writes every newly accepted fingerprint through p.
// Persistence failures never block the search; the first one is kept and
// reported by Err.
func (r *Registry) WithPersister(p Persister) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persister = p
	return r
}

// Preload inserts fingerprints restored from an earlier run without
// persisting them again.
func (r *Registry) Preload(fps []scenario.Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fp := range fps {
		r.seen[fp] = struct{}{}
	}
}

// Contains reports whether fp has been explored.
func (r *Registry) Contains(fp scenario.Fingerprint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[fp]
	return ok
}

// Add inserts fp unconditionally.
func (r *Registry) Add(fp scenario.Fingerprint) {
	r.TryAdd(fp)
}

// TryAdd inserts fp and returns true if it was not present.
func (r *Registry) TryAdd(fp scenario.Fingerprint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[fp]; ok {
		return false
	}
	r.seen[fp] = struct{}{}
	if r.persister != nil {
		if err := r.persister.AddFingerprint(fp); err != nil && r.persistErr == nil {
			r.persistErr = fmt.Errorf("persist fingerprint %s: %w", fp.Short(), err)
		}
	}
	return true
}

// Len returns the number of explored fingerprints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// Err returns the first persistence failure, if any.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistErr
}

// #endregion registry
