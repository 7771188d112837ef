package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// PhysicalEvidenceEvent represents an observed physical-crime indicator.
// Evidence is produced by external case-management systems; this core only
// reads it as correlation input, plus a thin ingestion boundary for
// completeness.
type PhysicalEvidenceEvent struct {
	ID           string          `json:"evidence_id" db:"evidence_id"`
	Kind         string          `json:"kind" db:"kind"`
	Latitude     *float64        `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64        `json:"longitude,omitempty" db:"longitude"`
	LocationName string          `json:"location_name,omitempty" db:"location_name"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	OccurredAt   time.Time       `json:"occurred_at" db:"occurred_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// NewEvidenceID derives a content-addressed evidence ID for records that
// arrive without one
func NewEvidenceID(kind string, occurredAt time.Time, location string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", kind, occurredAt.UTC().Format(time.RFC3339), location)))
	return hex.EncodeToString(sum[:])
}

// HasCoordinates reports whether the evidence carries a usable geolocation
func (e *PhysicalEvidenceEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}
