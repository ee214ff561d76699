package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

const keyringService = "cpctl"

// ErrNoToken is returned when no token is stored for a context.
var ErrNoToken = errors.New("no token stored")

type StoredToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the token is past its expiry, allowing for clock skew.
func (t StoredToken) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && now.Add(30*time.Second).After(t.Expiry)
}

// TokenStore keeps one token per cpctl context.
type TokenStore interface {
	Get(contextName string) (StoredToken, error)
	Save(contextName string, token StoredToken) error
	Delete(contextName string) error
}

// NewTokenStore returns the store for the configured backend. An empty kind
// uses the OS keychain when it is reachable and the token file otherwise.
func NewTokenStore(kind, filePath string) (TokenStore, error) {
	switch kind {
	case "keychain":
		return KeyringStore{}, nil
	case "file":
		return &FileStore{Path: filePath}, nil
	case "":
		if keychainAvailable() {
			return KeyringStore{}, nil
		}
		return &FileStore{Path: filePath}, nil
	default:
		return nil, fmt.Errorf("unknown token storage %q", kind)
	}
}

func keychainAvailable() bool {
	_, err := keyring.Get(keyringService, "__probe__")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// KeyringStore keeps tokens in the OS keychain.
type KeyringStore struct{}

func (KeyringStore) Get(contextName string) (StoredToken, error) {
	raw, err := keyring.Get(keyringService, contextName)
	if errors.Is(err, keyring.ErrNotFound) {
		return StoredToken{}, ErrNoToken
	}
	if err != nil {
		return StoredToken{}, fmt.Errorf("failed to read keychain: %w", err)
	}
	var tok StoredToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return StoredToken{}, fmt.Errorf("failed to parse stored token: %w", err)
	}
	return tok, nil
}

func (KeyringStore) Save(contextName string, token StoredToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, contextName, string(raw))
}

func (KeyringStore) Delete(contextName string) error {
	err := keyring.Delete(keyringService, contextName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

type tokenCache struct {
	Tokens map[string]StoredToken `json:"tokens"`
}

// FileStore keeps tokens in a 0600 JSON file.
type FileStore struct {
	Path string
}

func (s *FileStore) load() (*tokenCache, error) {
	content, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &tokenCache{Tokens: map[string]StoredToken{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var cache tokenCache
	if err := json.Unmarshal(content, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if cache.Tokens == nil {
		cache.Tokens = map[string]StoredToken{}
	}
	return &cache, nil
}

func (s *FileStore) save(cache *tokenCache) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	return os.WriteFile(s.Path, content, 0o600)
}

func (s *FileStore) Get(contextName string) (StoredToken, error) {
	cache, err := s.load()
	if err != nil {
		return StoredToken{}, err
	}
	tok, ok := cache.Tokens[contextName]
	if !ok {
		return StoredToken{}, ErrNoToken
	}
	return tok, nil
}

func (s *FileStore) Save(contextName string, token StoredToken) error {
	cache, err := s.load()
	if err != nil {
		return err
	}
	cache.Tokens[contextName] = token
	return s.save(cache)
}

func (s *FileStore) Delete(contextName string) error {
	cache, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := cache.Tokens[contextName]; !ok {
		return nil
	}
	delete(cache.Tokens, contextName)
	return s.save(cache)
}
