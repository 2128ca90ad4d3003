package cooldown

import (
	"sync"
	"time"
)

const (
	DefaultCooldown = 24 * time.Hour
	DefaultRefresh  = 30 * time.Minute
)

// Registry remembers when each author last got a reply. Expired entries are
// evicted lazily, at most once per refresh interval.
type Registry struct {
	mu          sync.Mutex
	cooldown    time.Duration
	refresh     time.Duration
	lastSweep   time.Time
	lastReplied map[string]time.Time
}

// New creates a registry whose first sweep is due one refresh interval after now.
func New(cooldown, refresh time.Duration, now time.Time) *Registry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Registry{
		cooldown:    cooldown,
		refresh:     refresh,
		lastSweep:   now,
		lastReplied: make(map[string]time.Time),
	}
}

// IsOnCooldown sweeps if due, then reports whether author is still cooling down.
func (r *Registry) IsOnCooldown(author string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)
	at, ok := r.lastReplied[author]
	if !ok {
		return false
	}
	return now.Sub(at) < r.cooldown
}

// MarkReplied records that author got a reply at now. Older timestamps never
// overwrite newer ones.
func (r *Registry) MarkReplied(author string, now time.Time) {
	if author == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.lastReplied[author]; ok && prev.After(now) {
		return
	}
	r.lastReplied[author] = now
}

// Sweep evicts expired entries and returns how many were removed. It is a
// no-op (returning 0) when less than the refresh interval has elapsed since
// the previous sweep.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) int {
	if now.Sub(r.lastSweep) < r.refresh {
		return 0
	}
	r.lastSweep = now

	var expired []string
	for author, at := range r.lastReplied {
		if now.Sub(at) >= r.cooldown {
			expired = append(expired, author)
		}
	}
	for _, author := range expired {
		delete(r.lastReplied, author)
	}
	return len(expired)
}

// Len returns the number of tracked authors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastReplied)
}

func (r *Registry) Cooldown() time.Duration { return r.cooldown }
