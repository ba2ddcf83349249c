package radio

import (
	"fmt"
	"strings"
)

// Columns names the raw radio fields of one relation. Observations and access
// points expose the same fields under different aliases.
type Columns struct {
	Type         string
	Frequency    string
	Capabilities string
}

var (
	ObservationColumns = Columns{
		Type:         "o.radio_type",
		Frequency:    "o.radio_frequency",
		Capabilities: "o.radio_capabilities",
	}
	AccessPointColumns = Columns{
		Type:         "ap.radio_type",
		Frequency:    "ap.frequency",
		Capabilities: "ap.capabilities",
	}
)

func (c Columns) normalizedCaps() string {
	return fmt.Sprintf("UPPER(TRIM(COALESCE(%s, '')))", c.Capabilities)
}

// TypeExpr renders InferRadioType as a SQL expression.
func (c Columns) TypeExpr() string {
	caps := c.normalizedCaps()
	var b strings.Builder
	b.WriteString("COALESCE(NULLIF(TRIM(")
	b.WriteString(c.Type)
	b.WriteString("), ''), CASE")
	for _, r := range typeRules {
		var cond string
		if r.band != nil {
			cond = bandCond(c.Frequency, *r.band)
		} else {
			cond = r.caps.sql(caps)
		}
		fmt.Fprintf(&b, " WHEN %s THEN %s", cond, quote(string(r.result)))
	}
	fmt.Fprintf(&b, " ELSE %s END)", quote(string(TypeUnknown)))
	return b.String()
}

// SecurityExpr renders InferSecurity as a SQL expression.
func (c Columns) SecurityExpr() string {
	return cascadeSQL(securityRules, c.normalizedCaps(), string(SecurityUnknown))
}

// AuthExpr renders InferAuth as a SQL expression.
func (c Columns) AuthExpr() string {
	return cascadeSQL(authRules, c.normalizedCaps(), string(AuthUnknown))
}

// ChannelExpr renders Channel as a SQL expression; NULL outside every band.
func (c Columns) ChannelExpr() string {
	f := c.Frequency
	return fmt.Sprintf("CASE WHEN %s = %d THEN 14"+
		" WHEN %s THEN ((%s - %d) / 5) + 1"+
		" WHEN %s THEN (%s - %d) / 5"+
		" WHEN %s THEN (%s - %d) / 5"+
		" ELSE NULL END",
		f, channel14MHz,
		bandCond(f, Band24GHz), f, Band24GHz.Base,
		bandCond(f, Band5GHz), f, Band5GHz.Base,
		bandCond(f, Band6GHz), f, Band6GHz.Base,
	)
}

// BandExpr renders BandOf as a SQL expression; NULL when no band applies.
func (c Columns) BandExpr() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, band := range WiFiBands {
		fmt.Fprintf(&b, " WHEN %s THEN %s", bandCond(c.Frequency, band), quote(band.Name))
	}
	t := c.TypeExpr()
	fmt.Fprintf(&b, " WHEN %s = %s THEN %s", t, quote(string(TypeBLE)), quote(BandNameBLE))
	fmt.Fprintf(&b, " WHEN %s IN (%s, %s, %s) THEN %s", t,
		quote(string(TypeLTE)), quote(string(TypeGSM)), quote(string(TypeNR)), quote(BandNameCellular))
	b.WriteString(" ELSE NULL END")
	return b.String()
}

func cascadeSQL(rules []capRule, caps, fallback string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, r := range rules {
		fmt.Fprintf(&b, " WHEN %s THEN %s", r.sql(caps), quote(r.label))
	}
	fmt.Fprintf(&b, " ELSE %s END", quote(fallback))
	return b.String()
}

// sql renders the rule as a boolean expression over an already normalized
// capability expression.
func (r capRule) sql(caps string) string {
	var conds []string
	if r.empty {
		conds = append(conds, caps+" = ''")
	}
	if len(r.exact) > 0 {
		quoted := make([]string, len(r.exact))
		for i, v := range r.exact {
			quoted[i] = quote(v)
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", caps, strings.Join(quoted, ", ")))
	}
	for _, group := range r.all {
		alts := make([]string, len(group))
		for i, tok := range group {
			alts[i] = fmt.Sprintf("%s LIKE %s", caps, likeContains(tok))
		}
		conds = append(conds, "("+strings.Join(alts, " OR ")+")")
	}
	for _, tok := range r.none {
		conds = append(conds, fmt.Sprintf("%s NOT LIKE %s", caps, likeContains(tok)))
	}
	if len(conds) == 0 {
		return "TRUE"
	}
	return strings.Join(conds, " AND ")
}

func bandCond(col string, b Band) string {
	return fmt.Sprintf("%s BETWEEN %d AND %d", col, b.Lo, b.Hi)
}

// quote renders a rule constant as a SQL string literal. Only package
// constants pass through here; request values are always bound as parameters.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeContains(tok string) string {
	return quote("%" + likeEscaper.Replace(tok) + "%")
}
