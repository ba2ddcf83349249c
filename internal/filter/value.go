package filter

import (
	"strings"
	"time"

	"github.com/shadowcheck/shadowcheck/internal/radio"
)

// Value is the typed value carried by one enabled key. The concrete type is
// fixed per key by the registry.
type Value interface {
	isValue()
}

// Text is a free-text identity filter value, already trimmed.
type Text string

// Number is a numeric bound.
type Number float64

// Flag is a boolean switch.
type Flag bool

// Set is a multi-select value. Raw holds the members as sent; Labels holds
// the classification labels they expand to. An empty Labels set matches
// nothing.
type Set struct {
	Raw    []string
	Labels []string
}

// Window is a relative or absolute time window.
type Window struct {
	// Relative is one of the RelativeWindows keys; empty for absolute windows.
	Relative string     `json:"relativeWindow,omitempty"`
	Start    *time.Time `json:"startTimestamp,omitempty"`
	End      *time.Time `json:"endTimestamp,omitempty"`
}

// IsRelative reports whether w is a relative window.
func (w Window) IsRelative() bool { return w.Relative != "" }

// Scope selects which timestamp a time window binds to.
type Scope string

const (
	ScopeObservationTime Scope = "observation_time"
	ScopeNetworkLifetime Scope = "network_lifetime"
	ScopeThreatWindow    Scope = "threat_window"
)

// QualityPreset is the value of the qualityFilter key.
type QualityPreset string

const (
	QualityNone      QualityPreset = "none"
	QualityTemporal  QualityPreset = "temporal"
	QualityExtreme   QualityPreset = "extreme"
	QualityDuplicate QualityPreset = "duplicate"
	QualityAll       QualityPreset = "all"
)

// Box is a lat/lon bounding box in degrees. West may exceed East when the box
// crosses the antimeridian.
type Box struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Circle is a great-circle radius around a point.
type Circle struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
}

func (Text) isValue()          {}
func (Number) isValue()        {}
func (Flag) isValue()          {}
func (Set) isValue()           {}
func (Window) isValue()        {}
func (Scope) isValue()         {}
func (QualityPreset) isValue() {}
func (Box) isValue()           {}
func (Circle) isValue()        {}

// RelativeWindows maps the accepted relative window names to their length
// in hours. "all" maps to 0 and disables the window.
var RelativeWindows = map[string]int{
	"24h": 24,
	"7d":  7 * 24,
	"30d": 30 * 24,
	"90d": 90 * 24,
	"all": 0,
}

// DefaultRelativeWindow applies when a relative timeframe names no window.
const DefaultRelativeWindow = "30d"

// Sensor limits.
const (
	NoiseFloorDBM        = -95
	MaxGPSAccuracyMeters = 1000
)

// vocabularies map a lowercased set member to the labels it selects.
var vocabularies = map[Key]map[string][]string{
	KeyRadioTypes: {
		"w": {string(radio.TypeWiFi)},
		"e": {string(radio.TypeBLE)},
		"b": {string(radio.TypeBluetooth)},
		"l": {string(radio.TypeLTE)},
		"g": {string(radio.TypeGSM)},
		"n": {string(radio.TypeNR)},
		"?": {string(radio.TypeUnknown)},
	},
	KeyFrequencyBands: {
		"2.4ghz":   {radio.Band24GHz.Name},
		"5ghz":     {radio.Band5GHz.Name},
		"6ghz":     {radio.Band6GHz.Name},
		"ble":      {radio.BandNameBLE},
		"cellular": {radio.BandNameCellular},
	},
	KeyEncryptionTypes: {
		"open": {string(radio.SecurityOpen)},
		"wep":  {string(radio.SecurityWEP)},
		"wpa":  {string(radio.SecurityWPA)},
		"wpa2": {string(radio.SecurityWPA2), string(radio.SecurityWPA2Enterprise)},
		"wpa3": {string(radio.SecurityWPA3), string(radio.SecurityWPA3SAE),
			string(radio.SecurityWPA3OWE), string(radio.SecurityWPA3Enterprise)},
		"wps": {string(radio.SecurityWPS)},
	},
	KeyAuthMethods: {
		"psk":        {string(radio.AuthPSK)},
		"enterprise": {string(radio.AuthEnterprise)},
		"sae":        {string(radio.AuthSAE)},
		"owe":        {string(radio.AuthOWE)},
		"none":       {string(radio.AuthNone)},
		"unknown":    {string(radio.AuthUnknown)},
	},
	KeyInsecureFlags: {
		"open":       {string(radio.SecurityOpen)},
		"wep":        {string(radio.SecurityWEP)},
		"wps":        {string(radio.SecurityWPS)},
		"deprecated": {string(radio.SecurityWEP), string(radio.SecurityWPS)},
	},
	KeySecurityFlags: {
		"insecure":   {string(radio.SecurityOpen), string(radio.SecurityWEP), string(radio.SecurityWPS)},
		"deprecated": {string(radio.SecurityWEP)},
		"enterprise": {string(radio.SecurityWPA2Enterprise), string(radio.SecurityWPA3Enterprise)},
		"personal": {string(radio.SecurityWPA), string(radio.SecurityWPA2),
			string(radio.SecurityWPA3), string(radio.SecurityWPA3SAE)},
		"unknown": {string(radio.SecurityUnknown)},
	},
	KeyThreatCategories: {
		"critical": {"CRITICAL"},
		"high":     {"HIGH"},
		"medium":   {"MED"},
		"med":      {"MED"},
		"low":      {"LOW"},
		"none":     {"NONE"},
	},
}

// expandSet maps raw members to labels, deduplicated, in first-seen order.
// Unrecognized members are returned separately.
func expandSet(k Key, raw []string) (labels, unknown []string) {
	vocab := vocabularies[k]
	seen := make(map[string]bool)
	labels = []string{}
	for _, member := range raw {
		m := strings.ToLower(strings.TrimSpace(member))
		if k == KeyEncryptionTypes && strings.Contains(m, "wep") {
			m = "wep"
		}
		mapped, ok := vocab[m]
		if !ok {
			unknown = append(unknown, member)
			continue
		}
		for _, l := range mapped {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	return labels, unknown
}
