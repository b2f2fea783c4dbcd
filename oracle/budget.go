package oracle

import (
	"sync"
)

// Usage is the consumption recorded by a Budget.
type Usage struct {
	Calls     int64 `json:"calls"`
	Tokens    int64 `json:"tokens"`
	MaxCalls  int64 `json:"max_calls"`
	MaxTokens int64 `json:"max_tokens"`
}

// Budget gates oracle calls against shared ceilings. TryConsume admits the
// consumption while both counters are below their ceilings and records it
// atomically; it returns false, recording nothing, otherwise.
type Budget interface {
	TryConsume(calls, tokens int64) bool
	Usage() Usage
}

// MemoryBudget is a process-wide Budget.
type MemoryBudget struct {
	mu    sync.Mutex
	usage Usage
}

// NewMemoryBudget creates a budget with the given ceilings
func NewMemoryBudget(maxCalls, maxTokens int64) *MemoryBudget {
	return &MemoryBudget{usage: Usage{MaxCalls: maxCalls, MaxTokens: maxTokens}}
}

// TryConsume implements Budget.
func (b *MemoryBudget) TryConsume(calls, tokens int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.usage.Calls >= b.usage.MaxCalls || b.usage.Tokens >= b.usage.MaxTokens {
		return false
	}
	b.usage.Calls += calls
	b.usage.Tokens += tokens
	return true
}

// Usage implements Budget.
func (b *MemoryBudget) Usage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

// Reset zeroes the counters.
func (b *MemoryBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage.Calls, b.usage.Tokens = 0, 0
}
