package credentials

import (
	"fmt"
	"sync"
)

// SecretStore resolves credential secrets by key name. Secrets are opaque
// handles; implementations decide where the material actually lives.
type SecretStore interface {
	GetSecret(name string) (string, error)
	SetSecret(name, value string) error
}

// MemorySecretStore keeps secrets in process memory. Used by tests and
// sandbox deployments.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]string)}
}

func (s *MemorySecretStore) GetSecret(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %q not set", name)
	}
	return v, nil
}

func (s *MemorySecretStore) SetSecret(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
	return nil
}
