package internal

import (
	"sort"
	"sync"
	"time"
)

// TypingTracker remembers which room members recently sent an activity ping.
// Entries expire after ttl without a fresh ping.
type TypingTracker struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{seen: make(map[string]time.Time), ttl: ttl}
}

func (p *TypingTracker) Touch(name string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[name] = at
}

func (p *TypingTracker) Clear(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, name)
}

func (p *TypingTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[string]time.Time)
}

// Active drops expired entries and returns the remaining names sorted.
func (p *TypingTracker) Active(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.seen))
	for name, at := range p.seen {
		if now.Sub(at) > p.ttl {
			delete(p.seen, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
