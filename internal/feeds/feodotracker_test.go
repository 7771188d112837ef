package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/pkg/logger"
)

const feodoFixture = `[
	{
		"ip_address": "178.62.21.244",
		"port": 443,
		"status": "online",
		"hostname": null,
		"as_number": 14061,
		"as_name": "DIGITALOCEAN-ASN",
		"country": "GB",
		"first_seen": "2025-10-01 07:22:13",
		"last_online": "2025-11-03",
		"malware": "Pikabot"
	},
	{
		"ip_address": "41.77.12.9",
		"port": 8080,
		"status": "offline",
		"hostname": "c2.example.co.za",
		"as_number": 37168,
		"as_name": "CELL-C",
		"country": "ZA",
		"first_seen": "2025-09-14 18:00:41",
		"last_online": "2025-10-20",
		"malware": "QakBot"
	},
	{
		"ip_address": "",
		"port": 0,
		"status": "offline",
		"malware": "Emotet"
	}
]`

func TestFeodoTrackerFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(feodoFixture))
	}))
	defer server.Close()

	feed := NewFeodoTrackerFeed(logger.NewNop())
	require.NoError(t, feed.Configure(Config{Enabled: true, FeedURL: server.URL}))

	result, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, feodoTrackerSlug, result.FeedSlug)

	// Entry with an empty IP is skipped.
	require.Len(t, result.Records, 2)
	assert.Equal(t, 2, result.Total)

	online := result.Records[0]
	assert.Equal(t, "178.62.21.244", online.IP)
	assert.Equal(t, "botnet_c2", online.ThreatCategory)
	assert.Equal(t, 0.9, online.Severity)
	assert.Equal(t, 0.95, online.Confidence)
	assert.Equal(t, "GB", online.CountryCode)
	assert.Equal(t, "DIGITALOCEAN-ASN", online.ISP)
	assert.Equal(t, "AS14061", online.ASN)
	assert.Contains(t, online.Categories, "botnet")
	assert.Contains(t, online.Categories, "pikabot")
	require.NotNil(t, online.FirstSeen)
	assert.Equal(t, time.Date(2025, 10, 1, 7, 22, 13, 0, time.UTC), online.FirstSeen.UTC())
	// The record timestamp follows first_seen so pulls stay idempotent.
	assert.Equal(t, *online.FirstSeen, online.Timestamp)

	offline := result.Records[1]
	assert.Equal(t, 0.7, offline.Severity)
	assert.Equal(t, 0.80, offline.Confidence)
	assert.Contains(t, offline.Categories, "qakbot")
}

func TestFeodoTrackerFetchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	feed := NewFeodoTrackerFeed(logger.NewNop())
	require.NoError(t, feed.Configure(Config{Enabled: true, FeedURL: server.URL}))

	result, err := feed.Fetch(context.Background())
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(logger.NewNop())

	feed := NewFeodoTrackerFeed(logger.NewNop())
	require.NoError(t, reg.Register(feed))
	assert.Error(t, reg.Register(feed), "duplicate registration must fail")

	got, ok := reg.Get(feodoTrackerSlug)
	require.True(t, ok)
	assert.Equal(t, feed.Slug(), got.Slug())

	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, 1, reg.CountEnabled())
	assert.Len(t, reg.ListEnabled(), 1)

	require.NoError(t, reg.Configure(feodoTrackerSlug, Config{Enabled: false}))
	assert.Equal(t, 0, reg.CountEnabled())
	assert.Empty(t, reg.ListEnabled())

	_, err := reg.Fetch(context.Background(), feodoTrackerSlug)
	assert.Error(t, err, "disabled feed must not fetch")

	stats := reg.Stats()
	assert.Equal(t, 1, stats.TotalFeeds)
	assert.Equal(t, 0, stats.EnabledFeeds)
}
