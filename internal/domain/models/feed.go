package models

import (
	"encoding/json"
	"time"
)

// FeedRecord is a raw threat record as delivered by an external feed, before
// validation and normalization
type FeedRecord struct {
	IP             string          `json:"ip"`
	Timestamp      time.Time       `json:"timestamp"`
	ThreatCategory string          `json:"threat_type"`
	Severity       float64         `json:"severity_score"`
	Confidence     float64         `json:"confidence_score"`
	CountryCode    string          `json:"country_code,omitempty"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	City           string          `json:"city,omitempty"`
	Region         string          `json:"region,omitempty"`
	ISP            string          `json:"isp,omitempty"`
	ASN            string          `json:"asn,omitempty"`
	FirstSeen      *time.Time      `json:"first_seen,omitempty"`
	LastSeen       *time.Time      `json:"last_seen,omitempty"`
	ReportCount    int             `json:"report_count,omitempty"`
	Categories     []string        `json:"categories,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// FeedFetchResult is the outcome of one feed pull
type FeedFetchResult struct {
	FeedSlug  string        `json:"feed_slug"`
	FetchedAt time.Time     `json:"fetched_at"`
	Records   []FeedRecord  `json:"records,omitempty"`
	Total     int           `json:"total"`
	Duration  time.Duration `json:"duration_ms"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// RecordFailure describes a single record that ingestion could not accept
type RecordFailure struct {
	Index  int    `json:"index"`
	IP     string `json:"ip,omitempty"`
	Reason string `json:"reason"`
}

// IngestResult summarizes a batch ingestion: best-effort partial success,
// one bad record never aborts the batch
type IngestResult struct {
	Source   string          `json:"source"`
	Received int             `json:"received"`
	Accepted int             `json:"accepted"`
	Rejected int             `json:"rejected"`
	Failed   int             `json:"failed"`
	Failures []RecordFailure `json:"failures,omitempty"`
}
