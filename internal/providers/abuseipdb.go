package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

const (
	abuseIPDBAPIURL = "https://api.abuseipdb.com/api/v2"
	abuseIPDBSlug   = "abuseipdb"

	// abuseIPDBMaxAgeDays bounds how far back reports are counted.
	abuseIPDBMaxAgeDays = "90"
)

// AbuseIPDBProvider queries the AbuseIPDB /check endpoint for the abuse
// reputation of a single IP.
type AbuseIPDBProvider struct {
	*BaseProvider
	client *http.Client
	logger *logger.Logger
	apiKey string
}

// NewAbuseIPDBProvider creates a new AbuseIPDB provider
func NewAbuseIPDBProvider(log *logger.Logger) *AbuseIPDBProvider {
	return &AbuseIPDBProvider{
		BaseProvider: NewBaseProvider(abuseIPDBSlug, "AbuseIPDB"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log.WithProvider(abuseIPDBSlug),
	}
}

// Configure configures the provider with the given config
func (p *AbuseIPDBProvider) Configure(cfg Config) error {
	if cfg.APIURL == "" {
		cfg.APIURL = abuseIPDBAPIURL
	}
	if cfg.Timeout > 0 {
		p.client.Timeout = cfg.Timeout
	}
	p.apiKey = cfg.APIKey
	return p.BaseProvider.Configure(cfg)
}

// IsEnabled reports whether the provider is enabled and holds a credential.
// Without an API key the provider is skipped, never an error.
func (p *AbuseIPDBProvider) IsEnabled() bool {
	return p.BaseProvider.IsEnabled() && p.apiKey != ""
}

// abuseIPDBResponse represents the /check API response
type abuseIPDBResponse struct {
	Data abuseIPDBCheckData `json:"data"`
}

type abuseIPDBCheckData struct {
	IPAddress            string `json:"ipAddress"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
	TotalReports         int    `json:"totalReports"`
	LastReportedAt       string `json:"lastReportedAt"`
	CountryCode          string `json:"countryCode"`
	UsageType            string `json:"usageType"`
	IsPublic             bool   `json:"isPublic"`
	IsWhitelisted        bool   `json:"isWhitelisted"`
}

// Lookup queries abuse reputation data for the given IP
func (p *AbuseIPDBProvider) Lookup(ctx context.Context, ip string) (*models.PartialEnrichment, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("AbuseIPDB API key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Config().APIURL+"/check", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	q := req.URL.Query()
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", abuseIPDBMaxAgeDays)
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("AbuseIPDB returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp abuseIPDBResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	abuse := &models.AbuseData{
		AbuseConfidenceScore: apiResp.Data.AbuseConfidenceScore,
		TotalReports:         apiResp.Data.TotalReports,
		LastReportedAt:       apiResp.Data.LastReportedAt,
		CountryCode:          apiResp.Data.CountryCode,
		UsageType:            apiResp.Data.UsageType,
		IsPublic:             apiResp.Data.IsPublic,
		IsWhitelisted:        apiResp.Data.IsWhitelisted,
	}

	p.logger.Debug().
		Str("ip", ip).
		Int("confidence", abuse.AbuseConfidenceScore).
		Int("reports", abuse.TotalReports).
		Msg("abuse reputation resolved")

	return &models.PartialEnrichment{Abuse: abuse}, nil
}
