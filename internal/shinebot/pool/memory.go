package pool

import (
	"context"
	"sync"
)

// MemPool is an in-memory Source for tests.
type MemPool struct {
	mu           sync.Mutex
	identifiers  []string
	sharedSecret string
}

// NewMemPool returns a MemPool seeded with the given identifiers, in
// withdrawal order.
func NewMemPool(sharedSecret string, identifiers ...string) *MemPool {
	return &MemPool{
		identifiers:  append([]string(nil), identifiers...),
		sharedSecret: sharedSecret,
	}
}

// WithdrawOne removes and returns the first remaining identifier.
func (p *MemPool) WithdrawOne(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.identifiers) == 0 {
		return Credential{}, ErrEmpty
	}
	identifier := p.identifiers[0]
	p.identifiers = p.identifiers[1:]
	return Credential{Identifier: identifier, Secret: p.sharedSecret}, nil
}

// Remaining reports how many identifiers are left.
func (p *MemPool) Remaining(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.identifiers), nil
}
