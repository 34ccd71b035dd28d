// Package secrets resolves provider API credentials from Vault, falling
// back to environment variables when Vault is disabled or missing a key.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string // KV v2 mount, e.g. "secret"
	PathPrefix string // e.g. "signal-engine/providers"
	TLSEnabled bool
	CACert     string
}

// Credentials is one provider's API credential pair.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Resolver fetches credentials with an in-process cache.
type Resolver struct {
	client *api.Client
	cfg    Config
	log    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Credentials
}

// New builds a resolver. With Vault disabled every lookup goes straight to
// the environment.
func New(cfg Config, log zerolog.Logger) (*Resolver, error) {
	r := &Resolver{cfg: cfg, log: log, cache: make(map[string]Credentials)}
	if !cfg.Enabled {
		return r, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	r.client = client
	return r, nil
}

// ProviderCredentials resolves credentials for a provider name like
// "binance-spot". Resolution order: cache, Vault KV, environment
// (PROVIDER_<NAME>_API_KEY / PROVIDER_<NAME>_SECRET_KEY). Missing
// credentials resolve to empty values; public endpoints work without them.
func (r *Resolver) ProviderCredentials(ctx context.Context, provider string) Credentials {
	r.mu.RLock()
	if creds, ok := r.cache[provider]; ok {
		r.mu.RUnlock()
		return creds
	}
	r.mu.RUnlock()

	creds := r.fromVault(ctx, provider)
	if creds.APIKey == "" {
		creds = fromEnv(provider)
	}

	r.mu.Lock()
	r.cache[provider] = creds
	r.mu.Unlock()
	return creds
}

func (r *Resolver) fromVault(ctx context.Context, provider string) Credentials {
	if r.client == nil {
		return Credentials{}
	}

	path := fmt.Sprintf("%s/data/%s/%s", r.cfg.MountPath, r.cfg.PathPrefix, provider)
	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", provider).Msg("vault read failed, falling back to env")
		return Credentials{}
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}
	}

	creds := Credentials{}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	return creds
}

func fromEnv(provider string) Credentials {
	name := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	return Credentials{
		APIKey:    os.Getenv("PROVIDER_" + name + "_API_KEY"),
		SecretKey: os.Getenv("PROVIDER_" + name + "_SECRET_KEY"),
	}
}
