package providers

import (
	"context"
	"time"

	"sentinel-lab/internal/domain/models"
)

// Provider defines the interface for IP enrichment providers. Each provider
// fills exactly one sub-object of the enrichment record; merging and scoring
// happen in the enrichment service.
type Provider interface {
	// Slug returns the unique identifier for this provider
	Slug() string

	// Name returns the human-readable name of this provider
	Name() string

	// Lookup queries the provider for a single IP address
	Lookup(ctx context.Context, ip string) (*models.PartialEnrichment, error)

	// IsEnabled returns whether this provider should be queried
	IsEnabled() bool

	// Configure configures the provider with the given config
	Configure(cfg Config) error
}

// Config holds configuration for a provider
type Config struct {
	Enabled bool          `json:"enabled"`
	APIURL  string        `json:"api_url,omitempty"`
	APIKey  string        `json:"api_key,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DefaultConfig returns default provider configuration
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Timeout: 10 * time.Second,
	}
}

// BaseProvider provides common functionality for providers
type BaseProvider struct {
	slug   string
	name   string
	config Config
}

// NewBaseProvider creates a new base provider
func NewBaseProvider(slug, name string) *BaseProvider {
	return &BaseProvider{
		slug:   slug,
		name:   name,
		config: DefaultConfig(),
	}
}

// Slug returns the unique identifier for this provider
func (p *BaseProvider) Slug() string {
	return p.slug
}

// Name returns the human-readable name of this provider
func (p *BaseProvider) Name() string {
	return p.name
}

// IsEnabled returns whether this provider is enabled
func (p *BaseProvider) IsEnabled() bool {
	return p.config.Enabled
}

// Configure configures the provider
func (p *BaseProvider) Configure(cfg Config) error {
	p.config = cfg
	return nil
}

// Config returns the current configuration
func (p *BaseProvider) Config() Config {
	return p.config
}

// Timeout returns the per-lookup timeout
func (p *BaseProvider) Timeout() time.Duration {
	if p.config.Timeout <= 0 {
		return 10 * time.Second
	}
	return p.config.Timeout
}
