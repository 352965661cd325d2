package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Window is the call budget of one tenant against the external API. Syncs
// counts the updates taken from the remote (headers, Update, refresh).
type Window struct {
	TenantID  string
	Limit     int
	Remaining int
	ResetAt   time.Time
	UpdatedAt time.Time
	Syncs     uint64
}

// Store holds per-tenant windows. Update runs fn while holding the tenant's
// lock; fn must not block.
type Store interface {
	Update(tenantID string, fn func(current Window, found bool) Window) Window
	Delete(tenantID string)
}

type tenantEntry struct {
	mu     sync.Mutex
	window Window
	found  bool
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*tenantEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*tenantEntry{}}
}

func (s *MemoryStore) Update(tenantID string, fn func(current Window, found bool) Window) Window {
	entry := s.entry(normalizeTenant(tenantID))
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.window = fn(entry.window, entry.found)
	entry.found = true
	return entry.window
}

func (s *MemoryStore) Delete(tenantID string) {
	key := normalizeTenant(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) entry(key string) *tenantEntry {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.entries[key]; ok {
		return entry
	}
	entry = &tenantEntry{}
	s.entries[key] = entry
	return entry
}

func normalizeTenant(tenantID string) string {
	return strings.ToLower(strings.TrimSpace(tenantID))
}

var _ Store = (*MemoryStore)(nil)
