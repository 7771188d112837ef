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
	ipapiAPIURL = "https://ipapi.co"
	geoIPSlug   = "ipapi"
)

// GeoIPProvider resolves IP geolocation through the ipapi.co JSON endpoint.
// The endpoint is keyless; the provider is always usable when enabled.
type GeoIPProvider struct {
	*BaseProvider
	client *http.Client
	logger *logger.Logger
}

// NewGeoIPProvider creates a new ipapi.co geolocation provider
func NewGeoIPProvider(log *logger.Logger) *GeoIPProvider {
	return &GeoIPProvider{
		BaseProvider: NewBaseProvider(geoIPSlug, "ipapi.co Geolocation"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log.WithProvider(geoIPSlug),
	}
}

// Configure configures the provider with the given config
func (p *GeoIPProvider) Configure(cfg Config) error {
	if cfg.APIURL == "" {
		cfg.APIURL = ipapiAPIURL
	}
	if cfg.Timeout > 0 {
		p.client.Timeout = cfg.Timeout
	}
	return p.BaseProvider.Configure(cfg)
}

// ipapiResponse represents the API response. ipapi.co signals failures for
// reserved or unknown addresses with an error flag in an HTTP 200 body.
type ipapiResponse struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
	CountryName string   `json:"country_name"`
	Country     string   `json:"country"`
	Org         string   `json:"org"`
	ASN         string   `json:"asn"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

// Lookup resolves geolocation data for the given IP
func (p *GeoIPProvider) Lookup(ctx context.Context, ip string) (*models.PartialEnrichment, error) {
	url := fmt.Sprintf("%s/%s/json/", p.Config().APIURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ipapi returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp ipapiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if apiResp.Error {
		return nil, fmt.Errorf("ipapi lookup failed for %s: %s", ip, apiResp.Reason)
	}

	geo := &models.GeoData{
		Latitude:    apiResp.Latitude,
		Longitude:   apiResp.Longitude,
		City:        apiResp.City,
		Region:      apiResp.Region,
		Country:     apiResp.CountryName,
		CountryCode: apiResp.Country,
		ISP:         apiResp.Org,
		ASN:         apiResp.ASN,
	}

	p.logger.Debug().
		Str("ip", ip).
		Str("country", geo.CountryCode).
		Str("city", geo.City).
		Msg("geolocation resolved")

	return &models.PartialEnrichment{Geo: geo}, nil
}
