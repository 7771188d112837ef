package models

import "time"

// GeoData holds geolocation lookup results for an IP
type GeoData struct {
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	City        string   `json:"city,omitempty"`
	Region      string   `json:"region,omitempty"`
	Country     string   `json:"country,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	ISP         string   `json:"isp,omitempty"`
	ASN         string   `json:"asn,omitempty"`
}

// AbuseData holds abuse-reputation lookup results for an IP
type AbuseData struct {
	AbuseConfidenceScore int    `json:"abuse_confidence_score"`
	TotalReports         int    `json:"total_reports"`
	LastReportedAt       string `json:"last_reported_at,omitempty"`
	CountryCode          string `json:"country_code,omitempty"`
	UsageType            string `json:"usage_type,omitempty"`
	IsPublic             bool   `json:"is_public"`
	IsWhitelisted        bool   `json:"is_whitelisted"`
}

// ExposureData holds exposed-service lookup results for an IP
type ExposureData struct {
	Ports              []int    `json:"ports,omitempty"`
	Organization       string   `json:"organization,omitempty"`
	Hostnames          []string `json:"hostnames,omitempty"`
	Vulnerabilities    []string `json:"vulnerabilities,omitempty"`
	VulnerabilityCount int      `json:"vulnerability_count"`
}

// PartialEnrichment is the output of a single provider lookup. Each provider
// fills only the sub-object it is responsible for; the cache merges partials
// into a full record.
type PartialEnrichment struct {
	Geo      *GeoData      `json:"geo,omitempty"`
	Abuse    *AbuseData    `json:"abuse,omitempty"`
	Exposure *ExposureData `json:"exposure,omitempty"`
}

// EnrichmentRecord is the cached enrichment state for one IP. At most one
// live record exists per IP; refreshes replace the whole record, never merge.
type EnrichmentRecord struct {
	IPAddress   string       `json:"ip_address" db:"ip_address"`
	Geo         GeoData      `json:"geo_data" db:"geo"`
	Abuse       AbuseData    `json:"abuse_data" db:"abuse"`
	Exposure    ExposureData `json:"exposure_data" db:"exposure"`
	ThreatScore float64      `json:"threat_score" db:"threat_score"`
	LastUpdated time.Time    `json:"last_updated" db:"last_updated"`
	ExpiresAt   time.Time    `json:"cache_expiry" db:"expires_at"`
}

// IsFresh reports whether the record is still inside its TTL at the given
// instant. Expired records are treated as absent.
func (r *EnrichmentRecord) IsFresh(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
