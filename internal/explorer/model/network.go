// Package model holds the row types returned by the explorer.
package model

import (
	"time"

	"github.com/shadowcheck/shadowcheck/internal/filter"
	"github.com/shadowcheck/shadowcheck/internal/query"
)

// Network is one access point aggregate with its derived radio fields and
// latest threat score.
type Network struct {
	BSSID                 string     `json:"bssid"`
	SSID                  *string    `json:"ssid"`
	Manufacturer          *string    `json:"manufacturer"`
	Type                  string     `json:"type"`
	Frequency             *int       `json:"frequency"`
	Channel               *int       `json:"channel"`
	Band                  *string    `json:"band"`
	Security              string     `json:"security"`
	Auth                  string     `json:"auth"`
	Capabilities          *string    `json:"capabilities"`
	FirstSeenAt           *time.Time `json:"first_seen_at"`
	LastSeenAt            *time.Time `json:"last_seen_at"`
	ObservationCount      int        `json:"observation_count"`
	UniqueDays            int        `json:"unique_days"`
	UniqueLocations       int        `json:"unique_locations"`
	MaxSignalDBM          *float64   `json:"max_signal_dbm"`
	DistanceFromHomeKm    *float64   `json:"distance_from_home_km"`
	MaxDistanceFromHomeKm *float64   `json:"max_distance_from_home_km"`
	SeenAtHome            bool       `json:"seen_at_home"`
	SeenAwayFromHome      bool       `json:"seen_away_from_home"`
	Latitude              *float64   `json:"latitude"`
	Longitude             *float64   `json:"longitude"`
	StationaryConfidence  *float64   `json:"stationary_confidence"`
	ThreatScore           *float64   `json:"threat_score"`
	ThreatLevel           *string    `json:"threat_level"`
	ModelVersion          *string    `json:"model_version"`
	ScoredAt              *time.Time `json:"scored_at"`
	// DistanceMeters is the great-circle distance from the radius filter
	// center, set only when a radius filter applied.
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

// Observation is one sighting joined to its access point.
type Observation struct {
	ID           int64     `json:"id"`
	BSSID        string    `json:"bssid"`
	SSID         *string   `json:"ssid"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	ObservedAt   time.Time `json:"observed_at"`
	SignalDBM    *float64  `json:"signal_dbm"`
	Frequency    *int      `json:"frequency"`
	GPSAccuracyM *float64  `json:"gps_accuracy_m"`
	Type         string    `json:"type"`
	Security     string    `json:"security"`
	Channel      *int      `json:"channel"`
	ThreatScore  *float64  `json:"threat_score"`
	ThreatLevel  *string   `json:"threat_level"`
}

// Report describes how a filter payload was applied.
type Report struct {
	Applied  []query.Applied  `json:"applied"`
	Ignored  []filter.Ignored `json:"ignored"`
	Warnings []string         `json:"warnings"`
}

// NewReport builds a Report from a compilation, with empty lists instead
// of nulls.
func NewReport(c query.Compiled) Report {
	r := Report{Applied: c.Applied, Ignored: c.Ignored, Warnings: c.Warnings}
	if r.Applied == nil {
		r.Applied = []query.Applied{}
	}
	if r.Ignored == nil {
		r.Ignored = []filter.Ignored{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return r
}

// NetworkPage is one page of networks plus the total matching count.
type NetworkPage struct {
	Networks []Network `json:"networks"`
	Total    int64     `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
	Filters  Report    `json:"filters"`
}

// ObservationPage is one page of observations.
type ObservationPage struct {
	Observations []Observation `json:"observations"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
	Filters      Report        `json:"filters"`
}
