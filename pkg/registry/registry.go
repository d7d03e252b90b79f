// Package registry resolves agents and services for the router.
//
// Backends: a static file (standalone mode), a remote trust directory over
// HTTP, and Postgres. All return contracts.ErrAgentNotFound or
// contracts.ErrServiceNotFound for unknown ids; any other error means the
// directory itself could not answer.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Directory is the read-only lookup contract the router depends on.
type Directory interface {
	FindAgent(ctx context.Context, agentID string) (*contracts.Agent, error)
	FindService(ctx context.Context, serviceID string) (*contracts.Service, error)
	ListAgents(ctx context.Context) ([]*contracts.Agent, error)
}

// Memory is a Directory held in maps. FileRegistry swaps its contents on reload.
type Memory struct {
	mu       sync.RWMutex
	agents   map[string]*contracts.Agent
	services map[string]*contracts.Service
}

// NewMemory builds a Memory directory from slices.
func NewMemory(agents []*contracts.Agent, services []*contracts.Service) *Memory {
	m := &Memory{}
	m.Replace(agents, services)
	return m
}

// Replace atomically swaps the directory contents.
func (m *Memory) Replace(agents []*contracts.Agent, services []*contracts.Service) {
	am := make(map[string]*contracts.Agent, len(agents))
	for _, a := range agents {
		am[a.AgentID] = a
	}
	sm := make(map[string]*contracts.Service, len(services))
	for _, s := range services {
		sm[s.ServiceID] = s
	}
	m.mu.Lock()
	m.agents, m.services = am, sm
	m.mu.Unlock()
}

func (m *Memory) FindAgent(_ context.Context, agentID string) (*contracts.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, contracts.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) FindService(_ context.Context, serviceID string) (*contracts.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[serviceID]
	if !ok {
		return nil, contracts.ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListAgents(_ context.Context) ([]*contracts.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*contracts.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// Counts returns the number of agents and services held.
func (m *Memory) Counts() (agents, services int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents), len(m.services)
}
