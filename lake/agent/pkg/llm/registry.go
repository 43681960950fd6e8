package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
)

const defaultClientTTL = 30 * time.Minute

// Observer receives one callback per finished provider call.
type Observer func(kind Kind, model, method string, duration time.Duration, err error)

type RegistryConfig struct {
	Logger *slog.Logger

	// APIKeys are the server-side credentials used when a request carries none.
	APIKeys map[Kind]string

	// Retries is the number of extra attempts for a failed call. Zero fails
	// the turn on the first provider error.
	Retries int

	ClientTTL time.Duration
	Observer  Observer

	// NewProvider overrides client construction, mainly for tests.
	NewProvider func(ctx context.Context, kind Kind, apiKey, model string) (Provider, error)
}

func (cfg *RegistryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Retries < 0 {
		return errors.New("retries must be non-negative")
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = defaultClientTTL
	}
	if cfg.NewProvider == nil {
		cfg.NewProvider = newProvider
	}
	return nil
}

// Registry resolves a model name and optional caller credential to a Provider,
// caching SDK clients per provider, credential and model.
type Registry struct {
	log   *slog.Logger
	cfg   RegistryConfig
	cache *ristretto.Cache
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider cache: %w", err)
	}
	return &Registry{log: cfg.Logger, cfg: cfg, cache: cache}, nil
}

func (r *Registry) Close() {
	r.cache.Close()
}

// Provider returns the provider for model. apiKey takes precedence over the
// configured server-side key for the provider.
func (r *Registry) Provider(ctx context.Context, model, apiKey string) (Provider, error) {
	kind, err := KindForModel(model)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		apiKey = r.cfg.APIKeys[kind]
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", kind.Name(), ErrMissingAPIKey)
	}

	key := cacheKey(kind, apiKey, model)
	if v, ok := r.cache.Get(key); ok {
		return v.(Provider), nil
	}

	p, err := r.cfg.NewProvider(ctx, kind, apiKey, model)
	if err != nil {
		return nil, &ProviderError{Kind: kind, Err: err}
	}
	p = withRetry(r.log, p, r.cfg.Retries)
	if r.cfg.Observer != nil {
		p = &observed{Provider: p, observe: r.cfg.Observer}
	}

	r.cache.SetWithTTL(key, p, 1, r.cfg.ClientTTL)
	r.cache.Wait()
	return p, nil
}

func cacheKey(kind Kind, apiKey, model string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return string(kind) + ":" + model + ":" + hex.EncodeToString(sum[:8])
}

func newProvider(ctx context.Context, kind Kind, apiKey, model string) (Provider, error) {
	switch kind {
	case KindGemini:
		return newGeminiProvider(ctx, apiKey, model)
	case KindOpenAI, KindDeepSeek:
		return newOpenAIProvider(kind, apiKey, model), nil
	case KindAnthropic:
		return newAnthropicProvider(apiKey, model), nil
	default:
		return nil, &UnsupportedModelError{Model: model}
	}
}

type observed struct {
	Provider
	observe Observer
}

func (o *observed) Complete(ctx context.Context, req *Request) (string, error) {
	start := time.Now()
	out, err := o.Provider.Complete(ctx, req)
	o.observe(o.Kind(), o.Model(), "complete", time.Since(start), err)
	return out, err
}

func (o *observed) Stream(ctx context.Context, req *Request, onChunk func(string) error) (string, error) {
	start := time.Now()
	out, err := o.Provider.Stream(ctx, req, onChunk)
	o.observe(o.Kind(), o.Model(), "stream", time.Since(start), err)
	return out, err
}
