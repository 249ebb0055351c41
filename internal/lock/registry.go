package lock

import (
	"context"
	"sort"
	"sync"
)

// Registry serializes operations that share a key. Implementations must
// acquire multiple keys in a single deterministic order so that two callers
// requesting overlapping key sets cannot deadlock.
type Registry interface {
	// WithLock runs fn while holding every key. The keys are always released,
	// even when fn returns an error or the caller's context is cancelled.
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// memoryRegistry keeps one mutex per key in process memory. Entries are
// created on first use and never removed; the key space (providers, open
// appointments) is small enough that reclamation is not worth the races it
// would invite.
type memoryRegistry struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// NewMemoryRegistry creates the in-process registry used by a
// single-instance deployment.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{mutexes: make(map[string]*sync.Mutex)}
}

func (r *memoryRegistry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mutexes[key]
	if !ok {
		m = &sync.Mutex{}
		r.mutexes[key] = m
	}
	return m
}

func (r *memoryRegistry) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ordered := dedupeSorted(keys)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, key := range ordered {
		m := r.get(key)
		m.Lock()
		held = append(held, m)
	}

	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()

	return fn(ctx)
}

// dedupeSorted returns the unique keys in lexicographic order. Sorting is
// what makes concurrent acquisitions of overlapping key sets deadlock-free.
func dedupeSorted(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)

	n := 0
	for i, k := range out {
		if i == 0 || out[n-1] != k {
			out[n] = k
			n++
		}
	}
	return out[:n]
}
