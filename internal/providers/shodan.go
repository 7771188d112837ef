package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

const (
	shodanAPIURL = "https://api.shodan.io"
	shodanSlug   = "shodan"
)

// ShodanProvider queries the Shodan host endpoint for exposed services and
// known vulnerabilities of a single IP.
type ShodanProvider struct {
	*BaseProvider
	client *http.Client
	logger *logger.Logger
	apiKey string
}

// NewShodanProvider creates a new Shodan provider
func NewShodanProvider(log *logger.Logger) *ShodanProvider {
	return &ShodanProvider{
		BaseProvider: NewBaseProvider(shodanSlug, "Shodan"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log.WithProvider(shodanSlug),
	}
}

// Configure configures the provider with the given config
func (p *ShodanProvider) Configure(cfg Config) error {
	if cfg.APIURL == "" {
		cfg.APIURL = shodanAPIURL
	}
	if cfg.Timeout > 0 {
		p.client.Timeout = cfg.Timeout
	}
	p.apiKey = cfg.APIKey
	return p.BaseProvider.Configure(cfg)
}

// IsEnabled reports whether the provider is enabled and holds a credential.
func (p *ShodanProvider) IsEnabled() bool {
	return p.BaseProvider.IsEnabled() && p.apiKey != ""
}

// shodanHostResponse represents the host lookup response. Vulns arrives as a
// CVE-keyed object; only the keys matter here.
type shodanHostResponse struct {
	Ports     []int                      `json:"ports"`
	Org       string                     `json:"org"`
	Hostnames []string                   `json:"hostnames"`
	Vulns     map[string]json.RawMessage `json:"vulns"`
}

// Lookup queries exposed-service data for the given IP
func (p *ShodanProvider) Lookup(ctx context.Context, ip string) (*models.PartialEnrichment, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("Shodan API key not configured")
	}

	url := fmt.Sprintf("%s/shodan/host/%s", p.Config().APIURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	q.Set("key", p.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Shodan returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp shodanHostResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	vulns := make([]string, 0, len(apiResp.Vulns))
	for cve := range apiResp.Vulns {
		vulns = append(vulns, cve)
	}
	sort.Strings(vulns)

	exposure := &models.ExposureData{
		Ports:              apiResp.Ports,
		Organization:       apiResp.Org,
		Hostnames:          apiResp.Hostnames,
		Vulnerabilities:    vulns,
		VulnerabilityCount: len(vulns),
	}

	p.logger.Debug().
		Str("ip", ip).
		Int("ports", len(exposure.Ports)).
		Int("vulns", exposure.VulnerabilityCount).
		Msg("exposure resolved")

	return &models.PartialEnrichment{Exposure: exposure}, nil
}
