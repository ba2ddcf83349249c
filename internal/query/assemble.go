package query

import (
	"fmt"
	"strings"
)

// Query is ready-to-execute SQL with its positional arguments.
type Query struct {
	sql  string
	args []any
}

// SQL returns the query text.
func (q Query) SQL() string { return q.sql }

// Args returns a copy of the arguments, so callers cannot alter a cached query.
func (q Query) Args() []any {
	out := make([]any, len(q.args))
	copy(out, q.args)
	return out
}

type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) { b.sb.WriteString(s) }

// add appends a fragment numbered from $1, rebasing it onto the arguments
// already collected.
func (b *builder) add(sql string, args ...any) {
	b.sb.WriteString(rebase(sql, len(b.args)))
	b.args = append(b.args, args...)
}

func (b *builder) conj(preds []Predicate) {
	for i, p := range preds {
		if i > 0 {
			b.write(" AND ")
		}
		b.write("(")
		b.add(p.SQL, p.Args...)
		b.write(")")
	}
}

func (b *builder) build() (Query, error) {
	sql := b.sb.String()
	ph := Placeholders(sql)
	if len(ph) != len(b.args) {
		return Query{}, fmt.Errorf("query has %d placeholders for %d args", len(ph), len(b.args))
	}
	for i, n := range ph {
		if n != i+1 {
			return Query{}, fmt.Errorf("placeholder $%d at position %d", n, i+1)
		}
	}
	return Query{sql: sql, args: b.args}, nil
}

func split(preds []Predicate) (network, observation []Predicate) {
	for _, p := range preds {
		if p.Relation == RelationObservation {
			observation = append(observation, p)
		} else {
			network = append(network, p)
		}
	}
	return network, observation
}

const networkFrom = " FROM access_points ap LEFT JOIN network_threat_scores nts ON nts.bssid = ap.bssid"

// NetworkColumns is the select list of NetworkList, in scan order.
var NetworkColumns = []string{
	"ap.bssid", "ap.ssid", "ap.manufacturer",
	ap.TypeExpr(), "ap.frequency", ap.ChannelExpr(), ap.BandExpr(),
	ap.SecurityExpr(), ap.AuthExpr(), "ap.capabilities",
	"ap.first_seen_at", "ap.last_seen_at",
	"ap.observation_count", "ap.unique_days", "ap.unique_locations", "ap.max_signal_dbm",
	"ap.distance_from_home_km", "ap.max_distance_from_home_km",
	"ap.seen_at_home", "ap.seen_away_from_home",
	"ap.latitude", "ap.longitude", "ap.stationary_confidence",
	"nts.final_threat_score", "nts.final_threat_level", "nts.model_version", "nts.scored_at",
}

// ObservationColumnsList is the select list of ObservationList, in scan order.
var ObservationColumnsList = []string{
	"o.id", "o.bssid", "ap.ssid", "o.latitude", "o.longitude", "o.observed_at",
	"o.signal_dbm", "o.radio_frequency", "o.gps_accuracy_m",
	obs.TypeExpr(), obs.SecurityExpr(), obs.ChannelExpr(),
	"nts.final_threat_score", "nts.final_threat_level",
}

// networkWhere writes the WHERE clause shared by list and count queries.
// Observation predicates become a correlated EXISTS so each access point is
// counted once however many observations match.
func networkWhere(b *builder, preds []Predicate) {
	network, observation := split(preds)
	if len(network) == 0 && len(observation) == 0 {
		return
	}
	b.write(" WHERE ")
	b.conj(network)
	if len(observation) > 0 {
		if len(network) > 0 {
			b.write(" AND ")
		}
		b.write("EXISTS (SELECT 1 FROM observations o WHERE o.bssid = ap.bssid AND ")
		b.conj(observation)
		b.write(")")
	}
}

// NetworkList assembles the access point list query.
func NetworkList(c Compiled, sort []SortField, page Page) (Query, error) {
	order, err := orderBy(sort, networkSortColumns, "ap.bssid")
	if err != nil {
		return Query{}, err
	}
	var b builder
	b.write("SELECT ")
	b.write(strings.Join(NetworkColumns, ", "))
	b.write(networkFrom)
	networkWhere(&b, c.Predicates)
	b.write(" ORDER BY " + order)
	b.add(" LIMIT $1 OFFSET $2", page.Limit, page.Offset)
	return b.build()
}

// NetworkCount assembles the total-count query for NetworkList.
func NetworkCount(c Compiled) (Query, error) {
	var b builder
	b.write("SELECT COUNT(*)")
	b.write(networkFrom)
	networkWhere(&b, c.Predicates)
	return b.build()
}

// ObservationList assembles the observation list query. Network predicates
// bind to the joined access point row.
func ObservationList(c Compiled, sort []SortField, page Page) (Query, error) {
	order, err := orderBy(sort, observationSortColumns, "o.id")
	if err != nil {
		return Query{}, err
	}
	network, observation := split(c.Predicates)
	var b builder
	b.write("SELECT ")
	b.write(strings.Join(ObservationColumnsList, ", "))
	b.write(" FROM observations o JOIN access_points ap ON ap.bssid = o.bssid" +
		" LEFT JOIN network_threat_scores nts ON nts.bssid = o.bssid")
	if all := append(network, observation...); len(all) > 0 {
		b.write(" WHERE ")
		b.conj(all)
	}
	b.write(" ORDER BY " + order)
	b.add(" LIMIT $1 OFFSET $2", page.Limit, page.Offset)
	return b.build()
}

// NetworkByBSSID assembles a single access point lookup.
func NetworkByBSSID(bssid string) (Query, error) {
	var b builder
	b.write("SELECT ")
	b.write(strings.Join(NetworkColumns, ", "))
	b.write(networkFrom)
	b.add(" WHERE UPPER(ap.bssid) = $1", strings.ToUpper(strings.TrimSpace(bssid)))
	return b.build()
}
