package breaker

import (
	"sort"
	"sync"
)

// Pool holds one breaker per project prefix, created lazily on first use.
type Pool struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewPool() *Pool {
	return &Pool{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker named name, creating it with cfg on first use.
// The configuration of an existing breaker is never replaced.
func (p *Pool) Get(name string, cfg Config) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[name]; ok {
		return b
	}
	b := New(name, cfg)
	p.breakers[name] = b
	return b
}

// Snapshot returns stats for every breaker, sorted by name.
func (p *Pool) Snapshot() []Stats {
	p.mu.Lock()
	out := make([]Stats, 0, len(p.breakers))
	for _, b := range p.breakers {
		out = append(out, b.Stats())
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
