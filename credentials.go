package toolgate

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CredentialProvider supplies tokens to tool handlers. The transport never
// reads credentials itself; it only threads the provider through to tool
// invocations.
type CredentialProvider interface {
	Token(ctx context.Context, service string) (string, error)
}

// StaticCredentialProvider serves tokens from a fixed map. Useful for tests
// and single-tenant deployments.
type StaticCredentialProvider struct {
	tokens map[string]string
}

// NewStaticCredentialProvider creates a provider backed by the given
// service-to-token map.
func NewStaticCredentialProvider(tokens map[string]string) *StaticCredentialProvider {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticCredentialProvider{tokens: copied}
}

func (p *StaticCredentialProvider) Token(_ context.Context, service string) (string, error) {
	token, ok := p.tokens[service]
	if !ok {
		return "", fmt.Errorf("no credential for service: %s", service)
	}
	return token, nil
}

// EnvCredentialProvider reads tokens from environment variables named
// <PREFIX><SERVICE>, with the service name upper-cased and dashes replaced by
// underscores.
type EnvCredentialProvider struct {
	Prefix string
}

func (p *EnvCredentialProvider) Token(_ context.Context, service string) (string, error) {
	key := p.Prefix + strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
	token := os.Getenv(key)
	if token == "" {
		return "", fmt.Errorf("no credential for service: %s (env %s unset)", service, key)
	}
	return token, nil
}
