package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ThreatEvent represents a single observed cyber-threat occurrence tied to an IP.
// Events are content-addressed: the ID is derived from (ip, timestamp) so that
// re-ingesting the same feed record upserts instead of duplicating.
type ThreatEvent struct {
	ID             string  `json:"event_id" db:"event_id"`
	IPAddress      string  `json:"ip_address" db:"ip_address"`
	ThreatCategory string  `json:"threat_category" db:"threat_category"`
	Severity       float64 `json:"severity_score" db:"severity"`     // 0.0 - 1.0
	Confidence     float64 `json:"confidence_score" db:"confidence"` // 0.0 - 1.0
	Source         string  `json:"source" db:"source"`

	// Geolocation (optional)
	CountryCode string   `json:"country_code,omitempty" db:"country_code"`
	Latitude    *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude   *float64 `json:"longitude,omitempty" db:"longitude"`
	City        string   `json:"city,omitempty" db:"city"`
	Region      string   `json:"region,omitempty" db:"region"`
	ISP         string   `json:"isp,omitempty" db:"isp"`
	ASN         string   `json:"asn,omitempty" db:"asn"`

	// Temporal
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`

	ReportCount int             `json:"report_count" db:"report_count"`
	Categories  []string        `json:"categories,omitempty" db:"categories"`
	RawData     json.RawMessage `json:"raw_data,omitempty" db:"raw_data"`

	// Audit
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewThreatEventID derives the content-addressed event ID from the source IP
// and the record timestamp. The timestamp is normalized to UTC RFC3339 so the
// same logical record always hashes to the same ID regardless of the zone it
// arrived in.
func NewThreatEventID(ip string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s", ip, ts.UTC().Format(time.RFC3339))))
	return hex.EncodeToString(sum[:])
}

// HasCoordinates reports whether the event carries a usable geolocation
func (e *ThreatEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// OccurredAt returns the timestamp used for temporal correlation
func (e *ThreatEvent) OccurredAt() time.Time {
	return e.LastSeen
}

// ThreatEventFilter represents filter options for querying threat events
type ThreatEventFilter struct {
	Category    string     `json:"category,omitempty"`
	Source      string     `json:"source,omitempty"`
	CountryCode string     `json:"country_code,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}
