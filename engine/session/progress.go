package session

import "sync"

// Progress is a percentage that only moves forward.
type Progress struct {
	mu    sync.Mutex
	value int
}

// Advance moves progress to p, clamped to [0, 100]. Lower values are
// ignored. It returns the resulting value.
func (p *Progress) Advance(v int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	v = min(max(v, 0), 100)
	if v > p.value {
		p.value = v
	}
	return p.value
}

// Finish sets progress to 100. Both success and failure end there.
func (p *Progress) Finish() {
	p.Advance(100)
}

// Value returns the current percentage.
func (p *Progress) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}
