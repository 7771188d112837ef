package feeds

import (
	"context"
	"time"

	"sentinel-lab/internal/domain/models"
)

// Feed defines the interface for external threat feed pullers. A feed
// delivers raw records; validation and persistence happen in ingestion.
type Feed interface {
	// Slug returns the unique identifier for this feed
	Slug() string

	// Name returns the human-readable name of this feed
	Name() string

	// Fetch retrieves the current batch of records from the feed
	Fetch(ctx context.Context) (*models.FeedFetchResult, error)

	// IsEnabled returns whether this feed is enabled
	IsEnabled() bool

	// UpdateInterval returns how often this feed should be pulled
	UpdateInterval() time.Duration

	// Configure configures the feed with the given config
	Configure(cfg Config) error
}

// Config holds configuration for a feed
type Config struct {
	Enabled        bool          `json:"enabled"`
	FeedURL        string        `json:"feed_url,omitempty"`
	UpdateInterval time.Duration `json:"update_interval,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// DefaultConfig returns default feed configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		UpdateInterval: 15 * time.Minute,
		Timeout:        60 * time.Second,
	}
}

// BaseFeed provides common functionality for feeds
type BaseFeed struct {
	slug   string
	name   string
	config Config
}

// NewBaseFeed creates a new base feed
func NewBaseFeed(slug, name string) *BaseFeed {
	return &BaseFeed{
		slug:   slug,
		name:   name,
		config: DefaultConfig(),
	}
}

// Slug returns the unique identifier for this feed
func (f *BaseFeed) Slug() string {
	return f.slug
}

// Name returns the human-readable name of this feed
func (f *BaseFeed) Name() string {
	return f.name
}

// IsEnabled returns whether this feed is enabled
func (f *BaseFeed) IsEnabled() bool {
	return f.config.Enabled
}

// UpdateInterval returns how often this feed should be pulled
func (f *BaseFeed) UpdateInterval() time.Duration {
	if f.config.UpdateInterval <= 0 {
		return 15 * time.Minute
	}
	return f.config.UpdateInterval
}

// Configure configures the feed
func (f *BaseFeed) Configure(cfg Config) error {
	f.config = cfg
	return nil
}

// Config returns the current configuration
func (f *BaseFeed) Config() Config {
	return f.config
}
