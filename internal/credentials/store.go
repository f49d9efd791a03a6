// Package credentials manages the bearer token used to authenticate
// the engine subprocess. Lookup goes through pluggable providers; saves
// and clears always target the file-backed provider.
package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
)

// EnvKey is the environment variable the engine reads the token from.
const EnvKey = "ANTHROPIC_API_KEY"

// ErrNotFound is returned when no provider holds a credential.
var ErrNotFound = fmt.Errorf("credential not found")

// Credential represents a stored credential.
type Credential struct {
	Key    string // Environment variable name (e.g., ANTHROPIC_API_KEY)
	Value  string // The secret value (never logged)
	Source string // Where it came from (file, env)
}

// Provider is a read-only source of the credential.
type Provider interface {
	// Get retrieves the credential, or an error when absent.
	Get(ctx context.Context) (*Credential, error)

	// Name returns the provider name.
	Name() string
}

// Store resolves the credential across providers and owns the writable
// file-backed provider used by Save and Clear.
type Store struct {
	file      *FileProvider
	providers []Provider
	cached    *Credential
	mu        sync.RWMutex
	logger    *logger.Logger
}

// DefaultPath returns the default on-disk credential location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".acpbridge", "credentials.json"), nil
}

// NewStore creates a store backed by the given file path plus the
// process environment. File wins over env so an explicit login
// overrides an inherited variable.
func NewStore(path string, log *logger.Logger) *Store {
	file := NewFileProvider(path)
	return &Store{
		file:      file,
		providers: []Provider{file, NewEnvProvider()},
		logger:    log.WithFields(zap.String("component", "credential-store")),
	}
}

// Get returns the token value, trying providers in order.
func (s *Store) Get(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.cached != nil {
		value := s.cached.Value
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, provider := range s.providers {
		cred, err := provider.Get(ctx)
		if err == nil {
			s.cached = cred
			s.logger.Debug("credential resolved", zap.String("source", cred.Source))
			return cred.Value, nil
		}
	}

	return "", ErrNotFound
}

// Available reports whether any provider currently holds a credential.
func (s *Store) Available(ctx context.Context) bool {
	_, err := s.Get(ctx)
	return err == nil
}

// Save persists the token to the file provider and refreshes the cache.
func (s *Store) Save(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if err := s.file.Save(token); err != nil {
		return err
	}

	s.mu.Lock()
	s.cached = &Credential{Key: EnvKey, Value: token, Source: "file"}
	s.mu.Unlock()

	s.logger.Info("credential saved")
	return nil
}

// Clear removes the stored token. Called proactively when the engine
// reports an authentication failure, so re-auth happens instead of
// useless retries.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.file.Clear(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	s.logger.Info("credential cleared")
	return nil
}
