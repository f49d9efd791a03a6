package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileProvider reads and writes the credential in a JSON file.
// File format: {"ANTHROPIC_API_KEY": "sk-..."}
type FileProvider struct {
	path        string
	credentials map[string]string
	mu          sync.RWMutex
	loaded      bool
}

// NewFileProvider creates a new file provider.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		path:        path,
		credentials: make(map[string]string),
	}
}

// Name returns the provider name.
func (p *FileProvider) Name() string {
	return "file"
}

// load reads the JSON file once; missing file means no credentials.
func (p *FileProvider) load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	if err := json.Unmarshal(data, &p.credentials); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	p.loaded = true
	return nil
}

// Get retrieves the token from the file.
func (p *FileProvider) Get(ctx context.Context) (*Credential, error) {
	if err := p.load(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	value, ok := p.credentials[EnvKey]
	if !ok || value == "" {
		return nil, ErrNotFound
	}

	return &Credential{Key: EnvKey, Value: value, Source: "file"}, nil
}

// Save writes the token to disk, creating the parent directory.
// The file is owner-readable only.
func (p *FileProvider) Save(token string) error {
	if err := p.load(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.credentials[EnvKey] = token

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}

	data, err := json.MarshalIndent(p.credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// Clear removes the token from disk and resets the in-memory state.
// Other keys in the file survive.
func (p *FileProvider) Clear() error {
	if err := p.load(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.credentials, EnvKey)

	if len(p.credentials) == 0 {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials file: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(p.credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// Reload forces a re-read of the file on next access.
func (p *FileProvider) Reload() {
	p.mu.Lock()
	p.loaded = false
	p.credentials = make(map[string]string)
	p.mu.Unlock()
}
