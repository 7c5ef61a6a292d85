package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	errs "igrelay/pkg/errors"
)

func testAccount(username string) *Account {
	return &Account{
		Username:  username,
		SessionID: "12345678%3Aabcdefghijkl%3A26",
		CSRFToken: "YTQHujAgMhyveLvvuwCfw9CPI8ROAHoy",
		UserAgent: "TestAgent/1.0",
	}
}

func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvSessionID, EnvCSRFToken, EnvUserAgent, EnvAccount} {
		t.Setenv(key, "")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	clearEnvironment(t)
	store := NewMockStore()
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	account := testAccount("relaybot")
	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if account.LastModified.IsZero() {
		t.Error("Store should stamp LastModified")
	}

	retrieved, err := manager.Retrieve("relaybot")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.SessionID != account.SessionID || retrieved.CSRFToken != account.CSRFToken {
		t.Errorf("Retrieved account mismatch: %+v", retrieved)
	}

	if err := manager.Delete("relaybot"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Expected 0 accounts after deletion, got %d", store.Count())
	}

	_, err = manager.Retrieve("relaybot")
	if !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
}

func TestManagerStoreValidation(t *testing.T) {
	manager := NewManagerWithStores(NewMockStore())

	err := manager.Store(&Account{Username: "relaybot"})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !errs.Is(err, errs.ErrorTypeValidation) {
		t.Errorf("Expected validation error type, got %v", err)
	}
	if !strings.Contains(err.Error(), "session ID") || !strings.Contains(err.Error(), "CSRF token") {
		t.Errorf("Expected both missing fields to be reported, got %v", err)
	}
}

func TestManagerStoreFallsThrough(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = ErrStoreUnavailable
	working := NewMockStore()

	manager := NewManagerWithStores(broken, working)
	if err := manager.Store(testAccount("relaybot")); err != nil {
		t.Fatalf("Store should fall through to second store: %v", err)
	}
	if working.Count() != 1 {
		t.Errorf("Expected account in second store, got %d", working.Count())
	}
}

func TestManagerResolve(t *testing.T) {
	clearEnvironment(t)
	store := NewMockStore()
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	if _, err := manager.Resolve(""); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound with no accounts, got %v", err)
	}

	older := testAccount("older")
	older.LastModified = time.Now().Add(-time.Hour)
	newer := testAccount("newer")
	newer.LastModified = time.Now()
	_ = store.Store(older)
	_ = store.Store(newer)

	account, err := manager.Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if account.Username != "newer" {
		t.Errorf("Expected most recent account, got %s", account.Username)
	}

	t.Setenv(EnvSessionID, "env-session")
	t.Setenv(EnvCSRFToken, "env-csrf")
	account, err = manager.Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if account.SessionID != "env-session" {
		t.Errorf("Expected environment session to win, got %s", account.SessionID)
	}

	account, err = manager.Resolve("older")
	if err != nil || account.Username != "older" {
		t.Errorf("Expected named account, got %+v, %v", account, err)
	}
}

func TestEnvironmentStore(t *testing.T) {
	clearEnvironment(t)
	store := NewEnvironmentStore()

	if _, err := store.Retrieve(""); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected not found without variables, got %v", err)
	}

	t.Setenv(EnvSessionID, "sess")
	t.Setenv(EnvCSRFToken, "csrf")
	t.Setenv(EnvAccount, "relaybot")

	account, err := store.Retrieve("")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if account.Username != "relaybot" {
		t.Errorf("Expected username from environment, got %s", account.Username)
	}
	if _, err := store.Retrieve("someoneelse"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected mismatch to be not found, got %v", err)
	}
	if err := store.Store(account); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Expected read-only store, got %v", err)
	}
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Store(testAccount("relaybot")); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if bytes.Contains(content, []byte("YTQHujAgMhyveLvvuwCfw9CPI8ROAHoy")) {
		t.Error("Credentials file contains plaintext CSRF token")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	// A second store over the same directory reuses the generated passphrase
	reopened, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	account, err := reopened.Retrieve("relaybot")
	if err != nil {
		t.Fatalf("Failed to retrieve after reopen: %v", err)
	}
	if account.CSRFToken != "YTQHujAgMhyveLvvuwCfw9CPI8ROAHoy" {
		t.Errorf("Unexpected CSRF token: %s", account.CSRFToken)
	}

	if err := reopened.Delete("relaybot"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed when empty")
	}
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv(EnvPassphrase, "first")
	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Store(testAccount("relaybot")); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}

	t.Setenv(EnvPassphrase, "second")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := other.Retrieve("relaybot"); err == nil {
		t.Error("Expected decryption to fail with a different passphrase")
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	if err != nil {
		t.Fatalf("Keyring should be available with mock provider: %v", err)
	}

	_ = store.Store(testAccount("alpha"))
	_ = store.Store(testAccount("beta"))
	_ = store.Store(testAccount("alpha"))

	accounts, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("Expected 2 indexed accounts, got %d", len(accounts))
	}

	if err := store.Delete("alpha"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Retrieve("alpha"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
	if err := store.Delete("alpha"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}

	accounts, _ = store.List()
	if len(accounts) != 1 || accounts[0].Username != "beta" {
		t.Errorf("Expected only beta to remain, got %+v", accounts)
	}
}

func TestSanitizeAccount(t *testing.T) {
	sanitized := SanitizeAccount(testAccount("relaybot"))

	if sanitized.SessionID != "1234...3A26" {
		t.Errorf("SessionID should be masked, got %s", sanitized.SessionID)
	}
	if sanitized.CSRFToken != "YTQH...AHoy" {
		t.Errorf("CSRFToken should be masked, got %s", sanitized.CSRFToken)
	}
	if sanitized.Username != "relaybot" {
		t.Error("Username should not be masked")
	}
	if SanitizeAccount(nil) != nil {
		t.Error("Expected nil for nil account")
	}
	if maskString("short") != "********" {
		t.Error("Short strings should be fully masked")
	}
}

func TestWriteCookieGuide(t *testing.T) {
	var buf bytes.Buffer
	WriteCookieGuide(&buf)

	for _, want := range []string{"sessionid", "csrftoken"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Guide should mention %s", want)
		}
	}
}
