package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedSort is returned for a sort column outside the allow-list.
	ErrUnsupportedSort = errors.New("unsupported sort column")
	// ErrInvalidPagination is returned for a negative or oversized page.
	ErrInvalidPagination = errors.New("invalid pagination")
)

// SortField is one ORDER BY term.
type SortField struct {
	Column string
	Desc   bool
}

// networkSortColumns is the allow-list for network lists.
var networkSortColumns = map[string]string{
	"bssid":                "ap.bssid",
	"ssid":                 "ap.ssid",
	"manufacturer":         "ap.manufacturer",
	"frequency":            "ap.frequency",
	"firstSeen":            "ap.first_seen_at",
	"lastSeen":             "ap.last_seen_at",
	"observations":         "ap.observation_count",
	"uniqueDays":           "ap.unique_days",
	"uniqueLocations":      "ap.unique_locations",
	"signal":               "ap.max_signal_dbm",
	"distanceFromHome":     "ap.distance_from_home_km",
	"maxDistance":          "ap.max_distance_from_home_km",
	"stationaryConfidence": "ap.stationary_confidence",
	"threatScore":          "nts.final_threat_score",
	"ruleScore":            "nts.rule_based_score",
	"mlScore":              "nts.ml_threat_score",
	"scoredAt":             "nts.scored_at",
}

// observationSortColumns is the allow-list for observation lists.
var observationSortColumns = map[string]string{
	"bssid":       "o.bssid",
	"observedAt":  "o.observed_at",
	"signal":      "o.signal_dbm",
	"frequency":   "o.radio_frequency",
	"accuracy":    "o.gps_accuracy_m",
	"latitude":    "o.latitude",
	"longitude":   "o.longitude",
	"ssid":        "ap.ssid",
	"threatScore": "nts.final_threat_score",
}

// derivedColumns are computed per row by the classification rules and are
// not sortable.
var derivedColumns = map[string]bool{
	"type": true, "security": true, "auth": true, "channel": true, "band": true,
}

// ParseSort parses "col[:asc|:desc],col..." into sort fields. An empty string
// yields no fields.
func ParseSort(s string) ([]SortField, error) {
	var out []SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, dir, _ := strings.Cut(part, ":")
		f := SortField{Column: strings.TrimSpace(col)}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			f.Desc = true
		default:
			return nil, fmt.Errorf("%w: bad direction %q", ErrUnsupportedSort, dir)
		}
		out = append(out, f)
	}
	return out, nil
}

func orderBy(fields []SortField, allowed map[string]string, tieBreaker string) (string, error) {
	terms := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if derivedColumns[f.Column] {
			return "", fmt.Errorf("%w: %q is derived", ErrUnsupportedSort, f.Column)
		}
		col, ok := allowed[f.Column]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedSort, f.Column)
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		terms = append(terms, col+" "+dir+" NULLS LAST")
	}
	terms = append(terms, tieBreaker+" ASC")
	return strings.Join(terms, ", "), nil
}

// Pagination defaults.
const (
	DefaultLimit = 500
	MaxLimit     = 5000
)

// Page is a validated limit/offset pair.
type Page struct {
	Limit  int
	Offset int
}

// NewPage validates a page request. A zero limit selects defaultLimit.
func NewPage(limit, offset, defaultLimit, maxLimit int) (Page, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if limit < 0 || offset < 0 {
		return Page{}, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidPagination)
	}
	if limit > maxLimit {
		return Page{}, fmt.Errorf("%w: limit %d exceeds %d", ErrInvalidPagination, limit, maxLimit)
	}
	if limit == 0 {
		limit = defaultLimit
	}
	return Page{Limit: limit, Offset: offset}, nil
}
