package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvSessionID = "IGRELAY_SESSION_ID"
	EnvCSRFToken = "IGRELAY_CSRF_TOKEN"
	EnvUserAgent = "IGRELAY_USER_AGENT"
	EnvAccount   = "IGRELAY_INSTAGRAM_ACCOUNT"
)

// EnvironmentStore is a read-only CredentialStore backed by IGRELAY_* variables
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment session. A non-empty username must match
// IGRELAY_INSTAGRAM_ACCOUNT when that variable is set.
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	sessionID := os.Getenv(EnvSessionID)
	csrfToken := os.Getenv(EnvCSRFToken)
	if sessionID == "" || csrfToken == "" {
		return nil, ErrCredentialsNotFound
	}

	name := os.Getenv(EnvAccount)
	if name == "" {
		name = "default"
	}
	if username != "" && username != name && os.Getenv(EnvAccount) != "" {
		return nil, ErrCredentialsNotFound
	}
	if username != "" {
		name = username
	}

	return &Account{
		Username:     name,
		SessionID:    sessionID,
		CSRFToken:    csrfToken,
		UserAgent:    os.Getenv(EnvUserAgent),
		LastModified: time.Now(),
	}, nil
}

// List returns the environment session if one is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}
