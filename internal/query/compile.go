// Package query compiles a normalized filter.Spec into parameterized SQL
// predicates and assembles them into executable explorer queries.
//
// Filter values only ever reach the database as bound parameters. Fragment
// text is built from column names and rule constants alone.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shadowcheck/shadowcheck/internal/filter"
	"github.com/shadowcheck/shadowcheck/internal/radio"
	"github.com/shadowcheck/shadowcheck/internal/spatial"
)

// Relation says which row set a predicate binds to.
type Relation int

const (
	// RelationNetwork predicates reference ap (access_points) and nts
	// (network_threat_scores).
	RelationNetwork Relation = iota
	// RelationObservation predicates reference o (observations).
	RelationObservation
)

// Predicate is one compiled filter. SQL numbers its placeholders from $1;
// the assembler rebases them.
type Predicate struct {
	Key      filter.Key
	Relation Relation
	SQL      string
	Args     []any
}

// Applied records a filter that contributed a predicate.
type Applied struct {
	Type  filter.Category `json:"type"`
	Field string          `json:"field"`
	Value any             `json:"value"`
}

// Compiled is the output of Compile.
type Compiled struct {
	Predicates []Predicate
	Applied    []Applied
	Ignored    []filter.Ignored
	Warnings   []string
}

// Quality thresholds for the data quality presets.
const (
	DefaultTemporalClusterThreshold = 50
	DefaultDuplicateCoordThreshold  = 1000
	DefaultExtremeSignalMin         = -120
	DefaultExtremeSignalMax         = 0
)

// Options tunes compilation.
type Options struct {
	// Observations sharing a timestamp and position beyond this count are
	// treated as a batch-import artifact.
	TemporalClusterThreshold int
	// Observations sharing a position beyond this count are treated as
	// placeholder coordinates.
	DuplicateCoordThreshold int
	ExtremeSignalMin        float64
	ExtremeSignalMax        float64
	// RadiusPrefilter adds a lat/lon range ahead of the exact distance test.
	RadiusPrefilter bool
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		TemporalClusterThreshold: DefaultTemporalClusterThreshold,
		DuplicateCoordThreshold:  DefaultDuplicateCoordThreshold,
		ExtremeSignalMin:         DefaultExtremeSignalMin,
		ExtremeSignalMax:         DefaultExtremeSignalMax,
		RadiusPrefilter:          true,
	}
}

var (
	ap  = radio.AccessPointColumns
	obs = radio.ObservationColumns
)

// Compile emits one predicate per enabled key of spec, in registry order.
// It never fails: unusable values were already dropped by the normalizer.
func Compile(spec *filter.Spec, opts Options) Compiled {
	c := &compiler{opts: opts}
	c.out.Ignored = append(c.out.Ignored, spec.Ignored...)
	c.out.Warnings = append(c.out.Warnings, spec.Warnings...)
	for _, k := range spec.Active() {
		v, _ := spec.Get(k)
		c.compile(spec, k, v)
	}
	return c.out
}

type compiler struct {
	opts Options
	out  Compiled
}

func (c *compiler) emit(k filter.Key, rel Relation, sql string, args ...any) {
	c.out.Predicates = append(c.out.Predicates, Predicate{Key: k, Relation: rel, SQL: sql, Args: args})
}

func (c *compiler) applied(k filter.Key, field string, v any) {
	c.out.Applied = append(c.out.Applied, Applied{Type: filter.CategoryOf(k), Field: field, Value: v})
}

// numeric maps range keys to their column and comparison operator.
var numeric = map[filter.Key]struct {
	expr string
	op   string
}{
	filter.KeyChannelMin:              {"(" + ap.ChannelExpr() + ")", ">="},
	filter.KeyChannelMax:              {"(" + ap.ChannelExpr() + ")", "<="},
	filter.KeyObservationCountMin:     {"ap.observation_count", ">="},
	filter.KeyObservationCountMax:     {"ap.observation_count", "<="},
	filter.KeyDistanceFromHomeMin:     {"ap.distance_from_home_km", ">="},
	filter.KeyDistanceFromHomeMax:     {"ap.distance_from_home_km", "<="},
	filter.KeyThreatScoreMin:          {"nts.final_threat_score", ">="},
	filter.KeyThreatScoreMax:          {"nts.final_threat_score", "<="},
	filter.KeyStationaryConfidenceMin: {"ap.stationary_confidence", ">="},
	filter.KeyStationaryConfidenceMax: {"ap.stationary_confidence", "<="},
}

// sets maps multi-select keys to the classification they are matched against.
var sets = map[filter.Key]string{
	filter.KeyRadioTypes:       ap.TypeExpr(),
	filter.KeyFrequencyBands:   ap.BandExpr(),
	filter.KeyEncryptionTypes:  ap.SecurityExpr(),
	filter.KeyInsecureFlags:    ap.SecurityExpr(),
	filter.KeySecurityFlags:    ap.SecurityExpr(),
	filter.KeyAuthMethods:      ap.AuthExpr(),
	filter.KeyThreatCategories: "nts.final_threat_level",
}

func (c *compiler) compile(spec *filter.Spec, k filter.Key, v filter.Value) {
	if col, ok := numeric[k]; ok {
		n := float64(v.(filter.Number))
		c.emit(k, RelationNetwork, fmt.Sprintf("%s %s $1::numeric", col.expr, col.op), n)
		c.applied(k, string(k), n)
		return
	}
	if expr, ok := sets[k]; ok {
		set := v.(filter.Set)
		if len(set.Labels) == 0 {
			c.emit(k, RelationNetwork, "FALSE")
		} else {
			c.emit(k, RelationNetwork, fmt.Sprintf("(%s) = ANY($1)", expr), set.Labels)
		}
		c.applied(k, string(k), set.Raw)
		return
	}

	switch k {
	case filter.KeySSID:
		s := string(v.(filter.Text))
		c.emit(k, RelationNetwork, "ap.ssid ILIKE $1", "%"+escapeLike(s)+"%")
		c.applied(k, string(k), s)

	case filter.KeyBSSID:
		s := strings.ToUpper(string(v.(filter.Text)))
		if len(s) == fullBSSIDLen {
			c.emit(k, RelationNetwork, "UPPER(ap.bssid) = $1", s)
		} else {
			c.emit(k, RelationNetwork, "UPPER(ap.bssid) LIKE $1", escapeLike(s)+"%")
		}
		c.applied(k, string(k), string(v.(filter.Text)))

	case filter.KeyManufacturer:
		s := string(v.(filter.Text))
		if oui, ok := coerceOUI(s); ok {
			c.emit(k, RelationNetwork, "UPPER(REPLACE(SUBSTRING(ap.bssid, 1, 8), ':', '')) = $1", oui)
			c.applied(k, "manufacturerOui", oui)
			return
		}
		c.emit(k, RelationNetwork, "ap.manufacturer ILIKE $1", "%"+escapeLike(s)+"%")
		c.applied(k, string(k), s)

	case filter.KeyRSSIMin:
		n := float64(v.(filter.Number))
		eff := n
		if eff < filter.NoiseFloorDBM {
			eff = filter.NoiseFloorDBM
			c.out.Warnings = append(c.out.Warnings,
				fmt.Sprintf("rssiMin %.0f dBm raised to the %d dBm noise floor", n, filter.NoiseFloorDBM))
		}
		c.emit(k, RelationNetwork, "ap.max_signal_dbm >= $1::numeric", eff)
		c.applied(k, string(k), n)

	case filter.KeyRSSIMax:
		n := float64(v.(filter.Number))
		c.emit(k, RelationNetwork, "ap.max_signal_dbm >= $1::numeric AND ap.max_signal_dbm <= $2::numeric",
			float64(filter.NoiseFloorDBM), n)
		c.applied(k, string(k), n)

	case filter.KeyTimeframe:
		c.compileWindow(k, v.(filter.Window), spec.Scope())

	case filter.KeyTemporalScope:
		// Consumed by the timeframe predicate.

	case filter.KeyGPSAccuracyMax:
		n := float64(v.(filter.Number))
		c.emit(k, RelationObservation,
			"o.gps_accuracy_m IS NOT NULL AND o.gps_accuracy_m > 0 AND o.gps_accuracy_m <= $1::numeric", n)
		c.applied(k, string(k), n)

	case filter.KeyExcludeInvalidCoords:
		if !bool(v.(filter.Flag)) {
			return
		}
		c.emit(k, RelationObservation,
			"o.latitude IS NOT NULL AND o.longitude IS NOT NULL"+
				" AND o.latitude BETWEEN -90 AND 90 AND o.longitude BETWEEN -180 AND 180"+
				" AND NOT (o.latitude = 0 AND o.longitude = 0)")
		c.applied(k, string(k), true)

	case filter.KeyQualityFilter:
		c.applied(k, string(k), string(v.(filter.QualityPreset)))

	case filter.KeyQualityTemporalClusters:
		c.emit(k, RelationObservation,
			"(SELECT COUNT(*) FROM observations q WHERE q.observed_at = o.observed_at"+
				" AND q.latitude = o.latitude AND q.longitude = o.longitude) <= $1",
			c.opts.TemporalClusterThreshold)

	case filter.KeyQualityDuplicateCoords:
		c.emit(k, RelationObservation,
			"(SELECT COUNT(*) FROM observations q WHERE q.latitude = o.latitude"+
				" AND q.longitude = o.longitude) <= $1",
			c.opts.DuplicateCoordThreshold)

	case filter.KeyQualityExtremeSignals:
		c.emit(k, RelationObservation, "o.signal_dbm BETWEEN $1::numeric AND $2::numeric",
			c.opts.ExtremeSignalMin, c.opts.ExtremeSignalMax)

	case filter.KeyBoundingBox:
		b := v.(filter.Box)
		if b.West > b.East {
			c.emit(k, RelationNetwork,
				"ap.latitude BETWEEN $1 AND $2 AND (ap.longitude >= $3 OR ap.longitude <= $4)",
				b.South, b.North, b.West, b.East)
		} else {
			c.emit(k, RelationNetwork,
				"ap.latitude BETWEEN $1 AND $2 AND ap.longitude BETWEEN $3 AND $4",
				b.South, b.North, b.West, b.East)
		}
		c.applied(k, string(k), b)

	case filter.KeyRadiusFilter:
		c.compileRadius(k, v.(filter.Circle))
	}
}

func (c *compiler) compileWindow(k filter.Key, w filter.Window, scope filter.Scope) {
	rel := RelationNetwork
	startCol, endCol := "nts.scored_at", "nts.scored_at"
	switch scope {
	case filter.ScopeNetworkLifetime:
		startCol, endCol = "ap.last_seen_at", "ap.first_seen_at"
	case filter.ScopeThreatWindow:
	default:
		rel = RelationObservation
		startCol, endCol = "o.observed_at", "o.observed_at"
	}

	if w.IsRelative() {
		if hours := filter.RelativeWindows[w.Relative]; hours > 0 {
			c.emit(k, rel, startCol+" >= NOW() - make_interval(hours => $1)", hours)
		}
	} else {
		switch {
		case w.Start != nil && w.End != nil:
			c.emit(k, rel, fmt.Sprintf("%s >= $1 AND %s <= $2", startCol, endCol), *w.Start, *w.End)
		case w.Start != nil:
			c.emit(k, rel, startCol+" >= $1", *w.Start)
		case w.End != nil:
			c.emit(k, rel, endCol+" <= $1", *w.End)
		}
	}
	c.applied(k, string(k), w)
	c.applied(filter.KeyTemporalScope, string(filter.KeyTemporalScope), string(scope))
}

// radiusPrefilterSlack widens the prefilter cap past the exact radius. The
// exact test measures on the mean-radius sphere; the slack absorbs float
// error and any spheroid drift at the cap edge.
const radiusPrefilterSlack = 1.01

func (c *compiler) compileRadius(k filter.Key, r filter.Circle) {
	var sb strings.Builder
	args := []any{r.Longitude, r.Latitude, r.RadiusMeters}
	// use_spheroid=false: the same sphere the s2 prefilter is built on.
	sb.WriteString("ST_DWithin(ST_SetSRID(ST_MakePoint(ap.longitude, ap.latitude), 4326)::geography," +
		" ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3, false)")

	if c.opts.RadiusPrefilter {
		bound := spatial.RadiusBound(r.Latitude, r.Longitude, r.RadiusMeters*radiusPrefilterSlack)
		fmt.Fprintf(&sb, " AND ap.latitude BETWEEN $%d AND $%d", len(args)+1, len(args)+2)
		args = append(args, bound.MinLat, bound.MaxLat)
		switch {
		case bound.AllLongitudes:
		case bound.CrossesAntimeridian():
			fmt.Fprintf(&sb, " AND (ap.longitude >= $%d OR ap.longitude <= $%d)", len(args)+1, len(args)+2)
			args = append(args, bound.MinLon, bound.MaxLon)
		default:
			fmt.Fprintf(&sb, " AND ap.longitude BETWEEN $%d AND $%d", len(args)+1, len(args)+2)
			args = append(args, bound.MinLon, bound.MaxLon)
		}
	}
	c.emit(k, RelationNetwork, sb.String(), args...)
	c.applied(k, string(k), r)
}

const fullBSSIDLen = 17

var ouiPattern = regexp.MustCompile(`^[0-9A-F]{6}$`)

// coerceOUI strips separators and reports whether s is a 24-bit OUI.
func coerceOUI(s string) (string, bool) {
	cleaned := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(s))
	return cleaned, ouiPattern.MatchString(cleaned)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE wildcards in a user value.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
