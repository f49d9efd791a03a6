package credentials

import (
	"context"
	"os"
)

// EnvProvider reads the credential from the process environment.
type EnvProvider struct{}

// NewEnvProvider creates a new environment provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Name returns the provider name.
func (p *EnvProvider) Name() string {
	return "env"
}

// Get retrieves the token from the environment.
func (p *EnvProvider) Get(ctx context.Context) (*Credential, error) {
	value := os.Getenv(EnvKey)
	if value == "" {
		return nil, ErrNotFound
	}
	return &Credential{Key: EnvKey, Value: value, Source: "env"}, nil
}
