package assigner

import (
	"errors"
	"sync"

	"github.com/cuemby/fleetctl/pkg/types"
)

var errNotFound = errors.New("not found")

// memStore is an in-memory storage.Store for assigner tests; it
// implements only the behavior the assigner actually exercises, all
// other entity families are unused no-ops.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	prompts  map[int64]*types.Prompt
	sessions map[string]*types.Session
	history  []*types.HistoryEntry
}

func newMemStore() *memStore {
	return &memStore{
		prompts:  make(map[int64]*types.Prompt),
		sessions: make(map[string]*types.Session),
	}
}

func (m *memStore) CreatePrompt(p *types.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.prompts[p.ID] = &cp
	return nil
}

func (m *memStore) GetPrompt(id int64) (*types.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPrompts() ([]*types.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Prompt, 0, len(m.prompts))
	for _, p := range m.prompts {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ListPromptsByStatus(status types.PromptStatus) ([]*types.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Prompt
	for _, p := range m.prompts {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePrompt(p *types.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[p.ID]; !ok {
		return errNotFound
	}
	cp := *p
	m.prompts[p.ID] = &cp
	return nil
}

func (m *memStore) DeletePrompt(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prompts, id)
	return nil
}

func (m *memStore) CreateSession(s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Name] = &cp
	return nil
}

func (m *memStore) GetSession(name string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, errNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSessions() ([]*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateSession(s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Name] = &cp
	return nil
}

func (m *memStore) DeleteSession(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, name)
	return nil
}

func (m *memStore) AppendHistory(e *types.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, e)
	return nil
}

func (m *memStore) ListHistoryByPrompt(promptID int64) ([]*types.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.HistoryEntry
	for _, e := range m.history {
		if e.PromptID == promptID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) CreateNode(*types.Node) error                        { return nil }
func (m *memStore) GetNode(string) (*types.Node, error)                 { return nil, errNotFound }
func (m *memStore) ListNodes() ([]*types.Node, error)                   { return nil, nil }
func (m *memStore) UpdateNode(*types.Node) error                        { return nil }
func (m *memStore) DeleteNode(string) error                             { return nil }
func (m *memStore) CreateAllocation(*types.ResourceAllocation) error    { return nil }
func (m *memStore) GetAllocation(string) (*types.ResourceAllocation, error) {
	return nil, errNotFound
}
func (m *memStore) ListAllocations() ([]*types.ResourceAllocation, error) { return nil, nil }
func (m *memStore) UpdateAllocation(*types.ResourceAllocation) error      { return nil }
func (m *memStore) AppendFailover(*types.FailoverEntry) error             { return nil }
func (m *memStore) ListFailovers() ([]*types.FailoverEntry, error)        { return nil, nil }
func (m *memStore) CreateService(*types.ManagedService) error            { return nil }
func (m *memStore) GetService(string) (*types.ManagedService, error)     { return nil, errNotFound }
func (m *memStore) ListServices() ([]*types.ManagedService, error)       { return nil, nil }
func (m *memStore) UpdateService(*types.ManagedService) error            { return nil }
func (m *memStore) DeleteService(string) error                           { return nil }
func (m *memStore) AppendServiceMetrics(*types.ServiceMetrics) error      { return nil }
func (m *memStore) ListServiceMetrics(string) ([]*types.ServiceMetrics, error) {
	return nil, nil
}
func (m *memStore) AppendServiceEvent(*types.SupervisorEvent) error { return nil }
func (m *memStore) ListServiceEvents(string) ([]*types.SupervisorEvent, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }
