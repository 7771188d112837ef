package feeds

import (
	"context"
	"fmt"
	"sync"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// Registry manages all feed pullers
type Registry struct {
	feeds  map[string]Feed
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewRegistry creates a new feed registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		feeds:  make(map[string]Feed),
		logger: log.WithComponent("feed-registry"),
	}
}

// Register registers a feed
func (r *Registry) Register(feed Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug := feed.Slug()
	if _, exists := r.feeds[slug]; exists {
		return fmt.Errorf("feed already registered: %s", slug)
	}

	r.feeds[slug] = feed
	r.logger.Info().
		Str("slug", slug).
		Str("name", feed.Name()).
		Msg("registered feed")

	return nil
}

// Get returns a feed by slug
func (r *Registry) Get(slug string) (Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	feed, ok := r.feeds[slug]
	return feed, ok
}

// List returns all registered feeds
func (r *Registry) List() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Feed, 0, len(r.feeds))
	for _, feed := range r.feeds {
		out = append(out, feed)
	}
	return out
}

// ListEnabled returns all enabled feeds
func (r *Registry) ListEnabled() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Feed, 0)
	for _, feed := range r.feeds {
		if feed.IsEnabled() {
			out = append(out, feed)
		}
	}
	return out
}

// Count returns the number of registered feeds
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}

// CountEnabled returns the number of enabled feeds
func (r *Registry) CountEnabled() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, feed := range r.feeds {
		if feed.IsEnabled() {
			count++
		}
	}
	return count
}

// Configure configures a feed by slug
func (r *Registry) Configure(slug string, cfg Config) error {
	r.mu.RLock()
	feed, ok := r.feeds[slug]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("feed not found: %s", slug)
	}

	return feed.Configure(cfg)
}

// Fetch fetches from a specific feed
func (r *Registry) Fetch(ctx context.Context, slug string) (*models.FeedFetchResult, error) {
	feed, ok := r.Get(slug)
	if !ok {
		return nil, fmt.Errorf("feed not found: %s", slug)
	}

	if !feed.IsEnabled() {
		return nil, fmt.Errorf("feed is disabled: %s", slug)
	}

	return feed.Fetch(ctx)
}

// FetchAll fetches from all enabled feeds
func (r *Registry) FetchAll(ctx context.Context) ([]*models.FeedFetchResult, []error) {
	enabled := r.ListEnabled()
	results := make([]*models.FeedFetchResult, 0, len(enabled))
	errs := make([]error, 0)

	for _, feed := range enabled {
		result, err := feed.Fetch(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", feed.Slug(), err))
			continue
		}
		results = append(results, result)
	}

	return results, errs
}

// RegistryStats summarizes the registry state
type RegistryStats struct {
	TotalFeeds   int `json:"total_feeds"`
	EnabledFeeds int `json:"enabled_feeds"`
}

// Stats returns registry statistics
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalFeeds: len(r.feeds),
	}
	for _, feed := range r.feeds {
		if feed.IsEnabled() {
			stats.EnabledFeeds++
		}
	}
	return stats
}
