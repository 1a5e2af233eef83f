package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CredentialVault holds raw provider secrets keyed by opaque references.
// Session configs carry only the reference, never the secret itself.
type CredentialVault struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewCredentialVault() *CredentialVault {
	return &CredentialVault{secrets: make(map[string]string)}
}

// Store saves a secret and returns its reference. Empty secrets yield an
// empty reference.
func (v *CredentialVault) Store(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}

	ref := uuid.NewString()
	v.mu.Lock()
	v.secrets[ref] = secret
	v.mu.Unlock()
	return ref
}

// Resolve returns the secret for a reference.
func (v *CredentialVault) Resolve(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	secret, ok := v.secrets[ref]
	return secret, ok
}

// Drop discards a stored secret.
func (v *CredentialVault) Drop(ref string) {
	if ref == "" {
		return
	}
	v.mu.Lock()
	delete(v.secrets, ref)
	v.mu.Unlock()
}
