package aschain

import (
	"sync"

	"github.com/google/uuid"
)

type tableEntry struct {
	chain *AsChain
	index int
}

// Table is a process-wide (or test-scoped) registry mapping opaque
// ODI tokens to (chain, index) pairs. It is injected into AsChain
// construction rather than used as a singleton, so tests can
// instantiate isolated tables. All operations share one mutex.
//
// The table does not own chains; chains register and unregister
// themselves around their own lifetime.
type Table struct {
	mu sync.Mutex
	m  map[string]tableEntry
}

// NewTable creates an empty, ready-to-use Table.
func NewTable() *Table {
	return &Table{m: make(map[string]tableEntry)}
}

// register generates size(chain)+1 fresh random tokens, inserts each
// into the map, and returns them in index order. Tokens are generated
// with crypto/rand-backed UUIDv4s (122 bits of entropy, well under the
// 2^-96 collision bound required over the program lifetime).
func (t *Table) register(chain *AsChain) []string {
	n := chain.Size() + 1
	tokens := make([]string, 0, n)

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < n; i++ {
		token := uuid.NewString()
		tokens = append(tokens, token)
		t.m[token] = tableEntry{chain: chain, index: i}
	}
	return tokens
}

// unregister removes every token from the map. Tokens not present are
// silently ignored; unregister is idempotent.
func (t *Table) unregister(tokens []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, token := range tokens {
		delete(t.m, token)
	}
}

// Lookup finds the chain registered under token. If found, it
// increments the chain's reference count and returns a live link at
// the stored index; the caller MUST call Release on it when done. If
// not found, it returns an unset link.
func (t *Table) Lookup(token string) AsChainLink {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.m[token]
	if !ok {
		return AsChainLink{}
	}
	entry.chain.IncRef()
	return AsChainLink{chain: entry.chain, index: entry.index}
}

// Len reports the number of live tokens currently registered. Used
// only for operational visibility (the api module's /stats endpoint).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
