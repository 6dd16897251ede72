package auth

import (
	"sync"
)

// CredentialStore holds the access/refresh token pair shared by the REST
// client and the socket layer.
type CredentialStore interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(access, refresh string) error
	Clear() error
}

// MemoryStore is a CredentialStore that lives only as long as the process.
type MemoryStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewMemoryStore(access, refresh string) *MemoryStore {
	return &MemoryStore{access: access, refresh: refresh}
}

func (s *MemoryStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemoryStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemoryStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.SetTokens("", "")
}
