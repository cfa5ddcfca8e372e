package breaker

import (
	"sync"
)

// HealthStatus is the per-service operational view of a breaker.
type HealthStatus struct {
	State       string   `json:"state"`
	IsAvailable bool     `json:"isAvailable"`
	Counters    Counters `json:"metrics"`
}

// Manager lazily creates and memoizes one breaker per downstream service
// name. Breakers never expire: they live for the process lifetime and are
// shared by every pipeline calling that service.
type Manager struct {
	mu         sync.Mutex
	cfg        Config
	breakers   map[string]*Breaker
	hook       func(name string, from, to State)
	rejectHook func(name string)
}

// NewManager creates a breaker manager applying cfg to every breaker it
// creates.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// SetStateChangeHook registers a hook applied to every breaker, existing
// and future.
func (m *Manager) SetStateChangeHook(fn func(name string, from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	for _, b := range m.breakers {
		b.SetStateChangeHook(fn)
	}
}

// SetRejectHook registers a rejection hook applied to every breaker,
// existing and future.
func (m *Manager) SetRejectHook(fn func(name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectHook = fn
	for _, b := range m.breakers {
		b.SetRejectHook(fn)
	}
}

// GetBreaker returns the breaker for a service name, creating it on first
// use.
func (m *Manager) GetBreaker(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, m.cfg)
	if m.hook != nil {
		b.SetStateChangeHook(m.hook)
	}
	if m.rejectHook != nil {
		b.SetRejectHook(m.rejectHook)
	}
	m.breakers[name] = b
	return b
}

// GetHealthStatus aggregates state, availability and counters per service
// for operational dashboards.
func (m *Manager) GetHealthStatus() map[string]HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]HealthStatus, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = HealthStatus{
			State:       b.State().String(),
			IsAvailable: b.IsAvailable(),
			Counters:    b.GetCounters(),
		}
	}
	return out
}

// ResetAll forces every breaker back to CLOSED. Operator action only.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
