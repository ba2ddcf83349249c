// Package radio classifies raw radio fields (frequency and capability string)
// into semantic categories: radio type, security label, authentication method,
// channel number and frequency band.
//
// Every classification is defined once as an ordered rule table. The same
// table is evaluated in Go (Infer* functions) and rendered as a SQL CASE
// expression (see sql.go), so rows classified in the database and values
// classified in process always agree.
package radio

import "strings"

// RadioType is the single-letter radio technology code stored alongside
// observations and access points.
type RadioType string

const (
	TypeWiFi      RadioType = "W"
	TypeBLE       RadioType = "E"
	TypeBluetooth RadioType = "B"
	TypeLTE       RadioType = "L"
	TypeGSM       RadioType = "G"
	TypeNR        RadioType = "N"
	TypeUnknown   RadioType = "?"
)

// IsCellular reports whether t is one of the cellular technologies.
func (t RadioType) IsCellular() bool {
	return t == TypeLTE || t == TypeGSM || t == TypeNR
}

// Band is an inclusive frequency range in MHz.
type Band struct {
	Name string
	Lo   int
	Hi   int
	// Base is the frequency of channel zero (or channel one for 2.4 GHz).
	Base int
}

// Contains reports whether freq lies within the band.
func (b Band) Contains(freq int) bool {
	return freq >= b.Lo && freq <= b.Hi
}

var (
	Band24GHz = Band{Name: "2.4GHz", Lo: 2412, Hi: 2484, Base: 2412}
	Band5GHz  = Band{Name: "5GHz", Lo: 5000, Hi: 5900, Base: 5000}
	Band6GHz  = Band{Name: "6GHz", Lo: 5925, Hi: 7125, Base: 5925}
)

// WiFiBands lists the WiFi bands in precedence order.
var WiFiBands = []Band{Band24GHz, Band5GHz, Band6GHz}

// Band names accepted by the frequencyBands filter.
const (
	BandNameBLE      = "BLE"
	BandNameCellular = "Cellular"
)

// channel14 is the Japanese 2.4 GHz channel, which breaks the 5 MHz spacing.
const channel14MHz = 2484

// Channel derives the channel number for a frequency. ok is false when the
// frequency lies outside every WiFi band.
func Channel(freq int) (ch int, ok bool) {
	switch {
	case Band24GHz.Contains(freq):
		if freq == channel14MHz {
			return 14, true
		}
		return (freq-Band24GHz.Base)/5 + 1, true
	case Band5GHz.Contains(freq):
		return (freq - Band5GHz.Base) / 5, true
	case Band6GHz.Contains(freq):
		return (freq - Band6GHz.Base) / 5, true
	default:
		return 0, false
	}
}

// BandOf returns the band name for a frequency and (already inferred) radio
// type, or "" when no band applies. WiFi frequency ranges take precedence.
func BandOf(t RadioType, freq int) string {
	for _, b := range WiFiBands {
		if b.Contains(freq) {
			return b.Name
		}
	}
	switch {
	case t == TypeBLE:
		return BandNameBLE
	case t.IsCellular():
		return BandNameCellular
	}
	return ""
}

// Classification bundles every derived attribute of one radio record.
type Classification struct {
	Type     RadioType `json:"type"`
	Security Security  `json:"security"`
	Auth     Auth      `json:"auth"`
	Channel  *int      `json:"channel"`
	Band     string    `json:"band,omitempty"`
}

// Classify applies every inference rule to one record.
func Classify(storedType string, freq int, capabilities string) Classification {
	t := InferRadioType(storedType, freq, capabilities)
	c := Classification{
		Type:     t,
		Security: InferSecurity(capabilities),
		Auth:     InferAuth(capabilities),
		Band:     BandOf(t, freq),
	}
	if ch, ok := Channel(freq); ok {
		c.Channel = &ch
	}
	return c
}

// normalize is the canonical form every capability rule is evaluated on.
// The SQL renderer applies the same transformation (UPPER(TRIM(...))), and
// TRIM only strips spaces, hence strings.Trim rather than TrimSpace.
func normalize(capabilities string) string {
	return strings.ToUpper(strings.Trim(capabilities, " "))
}
