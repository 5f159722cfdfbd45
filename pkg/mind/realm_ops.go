package mind

import "fmt"

// SetRealm changes the current realm new writes are scoped into.
func (m *Mind) SetRealm(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.realms.SetCurrent(name); err != nil {
		return wrapErr("set_realm", fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	return nil
}

// CreateRealm adds a new realm under parent.
func (m *Mind) CreateRealm(name, parent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.realms.Create(name, parent); err != nil {
		return wrapErr("create_realm", fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	return nil
}

// CurrentRealm returns the realm new writes are currently scoped into.
func (m *Mind) CurrentRealm() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realms.Current()
}
