package executor

import (
	"sort"
	"sync"
)

// Wildcard matches any block type or language.
const Wildcard = "*"

type registryKey struct {
	blockType string
	language  string
}

// Registry maps (block type, language) to an execution strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[registryKey]Strategy
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[registryKey]Strategy)}
}

// Register adds a strategy. Either part may be Wildcard.
func (r *Registry) Register(blockType, language string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[registryKey{blockType, language}] = s
}

// Resolve finds the strategy for (blockType, language), falling back to
// (blockType, *), (*, language) and (*, *) in that order.
func (r *Registry) Resolve(blockType, language string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range []registryKey{
		{blockType, language},
		{blockType, Wildcard},
		{Wildcard, language},
		{Wildcard, Wildcard},
	} {
		if s, ok := r.strategies[k]; ok {
			return s, true
		}
	}
	return nil, false
}

// List returns sorted "type/language" keys of all registered strategies.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k.blockType+"/"+k.language)
	}
	sort.Strings(keys)
	return keys
}
