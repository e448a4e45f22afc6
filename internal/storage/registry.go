package storage

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// AgentType identifies which agent CLI wrote a session log.
type AgentType string

const (
	AgentCodex    AgentType = "codex"
	AgentOpenCode AgentType = "opencode"
)

// Registry holds one Store per agent type and routes calls by agent.
type Registry struct {
	mu     sync.RWMutex
	stores map[AgentType]Store
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[AgentType]Store)}
}

// Register installs store for agent, replacing any previous registration.
func (r *Registry) Register(agent AgentType, store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[agent]; exists {
		log.Warn().Str("agent", string(agent)).Msg("replacing registered session store")
	}
	r.stores[agent] = store
}

// Get returns the store registered for agent.
func (r *Registry) Get(agent AgentType) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[agent]
	return store, ok
}

// PathResolver returns the store's path-resolution capability when it has one.
func (r *Registry) PathResolver(agent AgentType) (PathResolver, bool) {
	store, ok := r.Get(agent)
	if !ok {
		return nil, false
	}
	resolver, ok := store.(PathResolver)
	return resolver, ok
}

// Watcher returns the store's watch capability when it has one.
func (r *Registry) Watcher(agent AgentType) (Watchable, bool) {
	store, ok := r.Get(agent)
	if !ok {
		return nil, false
	}
	watchable, ok := store.(Watchable)
	return watchable, ok
}

// Agents lists registered agent types in stable order.
func (r *Registry) Agents() []AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]AgentType, 0, len(r.stores))
	for agent := range r.stores {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
	return agents
}
