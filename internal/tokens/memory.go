package tokens

import (
	"context"
	"sort"
	"sync"
)

// MemoryInventory is a mutex-guarded in-memory Inventory, used as the
// default backend and in tests.
type MemoryInventory struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryInventory creates an empty in-memory inventory
func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{tokens: make(map[string]Token)}
}

// Add registers or replaces a token by serial
func (m *MemoryInventory) Add(ctx context.Context, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[t.Serial] = t
	return nil
}

// Remove drops a token by serial. Removing an unknown serial is a no-op.
func (m *MemoryInventory) Remove(ctx context.Context, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, serial)
	return nil
}

// CountForUser returns the number of tokens assigned to username in realm
func (m *MemoryInventory) CountForUser(ctx context.Context, username, realm string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.tokens {
		if t.Username == username && t.Realm == realm {
			n++
		}
	}
	return n, nil
}

// CountForRealm returns the number of tokens visible in realm
func (m *MemoryInventory) CountForRealm(ctx context.Context, realm string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.tokens {
		if inRealm(t, realm) {
			n++
		}
	}
	return n, nil
}

// RealmsOfSerial returns the realms the token is visible in, sorted
func (m *MemoryInventory) RealmsOfSerial(ctx context.Context, serial string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[serial]
	if !ok {
		return []string{}, nil
	}
	realms := tokenRealms(t)
	sort.Strings(realms)
	return realms, nil
}

// inRealm reports whether the token is visible in realm, either through
// its realm list or its owner's realm.
func inRealm(t Token, realm string) bool {
	for _, r := range t.Realms {
		if r == realm {
			return true
		}
	}
	return len(t.Realms) == 0 && t.Realm == realm
}

// tokenRealms returns the token's realm list, falling back to the
// owner's realm when none is set.
func tokenRealms(t Token) []string {
	if len(t.Realms) > 0 {
		out := make([]string, len(t.Realms))
		copy(out, t.Realms)
		return out
	}
	if t.Realm != "" {
		return []string{t.Realm}
	}
	return []string{}
}
