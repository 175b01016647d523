package ipguard

import (
	"context"
	"sync"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// MemoryStore keeps guard state in process. State is lost on restart and is
// not shared between instances.
type MemoryStore struct {
	lock sync.RWMutex

	windows       map[string]*models.FailureWindow
	blocks        map[string]*models.BlockRecord
	registrations map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:       make(map[string]*models.FailureWindow),
		blocks:        make(map[string]*models.BlockRecord),
		registrations: make(map[string]int),
	}
}

// Update runs fn under the write lock
func (m *MemoryStore) Update(_ context.Context, ip string, fn UpdateFunc) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	state := &AddressState{}
	if w, ok := m.windows[ip]; ok {
		state.Window = cloneWindow(w)
	}
	if b, ok := m.blocks[ip]; ok {
		state.Block = cloneBlock(b)
	}

	write, err := fn(state)
	if err != nil || !write {
		return err
	}

	if state.Window == nil {
		delete(m.windows, ip)
	} else {
		m.windows[ip] = cloneWindow(state.Window)
	}
	if state.Block == nil {
		delete(m.blocks, ip)
	} else {
		m.blocks[ip] = cloneBlock(state.Block)
	}
	return nil
}

func (m *MemoryStore) DeleteWindow(_ context.Context, ip string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.windows, ip)
	return nil
}

func (m *MemoryStore) ListWindows(_ context.Context) ([]*models.FailureWindow, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	windows := make([]*models.FailureWindow, 0, len(m.windows))
	for _, w := range m.windows {
		windows = append(windows, cloneWindow(w))
	}
	return windows, nil
}

func (m *MemoryStore) ListBlocks(_ context.Context) ([]*models.BlockRecord, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	blocks := make([]*models.BlockRecord, 0, len(m.blocks))
	for _, b := range m.blocks {
		blocks = append(blocks, cloneBlock(b))
	}
	return blocks, nil
}

func (m *MemoryStore) RegistrationCount(_ context.Context, ip string) (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.registrations[ip], nil
}

func (m *MemoryStore) IncrRegistrations(_ context.Context, ip string) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.registrations[ip]++
	return m.registrations[ip], nil
}

func (m *MemoryStore) ReserveRegistration(_ context.Context, ip string, limit int) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.registrations[ip] >= limit {
		return false, nil
	}
	m.registrations[ip]++
	return true, nil
}

func (m *MemoryStore) ReleaseRegistration(_ context.Context, ip string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.registrations[ip] > 0 {
		m.registrations[ip]--
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
