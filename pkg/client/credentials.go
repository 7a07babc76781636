package client

import "sync"

// CredentialSource returns the stored bearer credential, if any
type CredentialSource func() (token string, ok bool)

// StaticCredential always returns token; an empty token means none is stored
func StaticCredential(token string) CredentialSource {
	return func() (string, bool) {
		return token, token != ""
	}
}

// TokenStore holds the credential shared by the REST client and the session
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// Set stores a credential
func (t *TokenStore) Set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

// Clear removes the stored credential
func (t *TokenStore) Clear() {
	t.Set("")
}

// Credential implements CredentialSource
func (t *TokenStore) Credential() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token, t.token != ""
}
