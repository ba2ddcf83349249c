package radio

import "strings"

// Security is the derived security protocol label.
type Security string

const (
	SecurityOpen           Security = "OPEN"
	SecurityWPA3OWE        Security = "WPA3-OWE"
	SecurityWPA3SAE        Security = "WPA3-SAE"
	SecurityWPA3Enterprise Security = "WPA3-E"
	SecurityWPA3           Security = "WPA3"
	SecurityWPA2Enterprise Security = "WPA2-E"
	SecurityWPA2           Security = "WPA2"
	SecurityWPA            Security = "WPA"
	SecurityWEP            Security = "WEP"
	SecurityWPS            Security = "WPS"
	SecurityUnknown        Security = "Unknown"
)

// Auth is the derived authentication method.
type Auth string

const (
	AuthEnterprise Auth = "Enterprise"
	AuthSAE        Auth = "SAE"
	AuthOWE        Auth = "OWE"
	AuthPSK        Auth = "PSK"
	AuthNone       Auth = "None"
	AuthUnknown    Auth = "Unknown"
)

// capRule is one row of a capability cascade. All populated clauses must hold
// for the rule to match; the first matching rule of a table wins.
type capRule struct {
	label string
	// empty matches a blank capability string.
	empty bool
	// exact matches when the normalized string equals one of these.
	exact []string
	// all is a conjunction of groups; each group matches when the string
	// contains at least one of its tokens.
	all [][]string
	// none rejects the rule when any of these tokens is present.
	none []string
}

func (r capRule) match(norm string) bool {
	if r.empty && norm != "" {
		return false
	}
	if len(r.exact) > 0 && !equalsAny(norm, r.exact) {
		return false
	}
	for _, group := range r.all {
		if !containsAny(norm, group) {
			return false
		}
	}
	return !containsAny(norm, r.none)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func equalsAny(s string, values []string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}

func toks(tokens ...string) []string { return tokens }

// securityRules is ordered by priority: the SAE/OWE variants must be checked
// before the generic WPA3 rule, and enterprise before personal.
var securityRules = []capRule{
	{label: string(SecurityOpen), empty: true},
	{label: string(SecurityOpen), exact: []string{"[ESS]", "[IBSS]"}},
	{label: string(SecurityWPA3OWE), all: [][]string{toks("RSN-OWE", "WPA3-OWE")}},
	{label: string(SecurityWPA3SAE), all: [][]string{toks("RSN-SAE", "WPA3-SAE")}},
	{label: string(SecurityWPA3Enterprise), all: [][]string{toks("WPA3", "SAE"), toks("EAP", "MGT")}},
	{label: string(SecurityWPA3), all: [][]string{toks("WPA3", "SAE")}},
	{label: string(SecurityWPA2Enterprise), all: [][]string{toks("WPA2", "RSN"), toks("EAP", "MGT")}},
	{label: string(SecurityWPA2), all: [][]string{toks("WPA2", "RSN")}},
	{label: string(SecurityWPA), all: [][]string{toks("WPA-")}, none: toks("WPA2")},
	{label: string(SecurityWPA), all: [][]string{toks("WPA")}, none: toks("WPA2", "WPA3", "RSN")},
	{label: string(SecurityWEP), all: [][]string{toks("WEP")}},
	{label: string(SecurityWPS), all: [][]string{toks("WPS")}, none: toks("WPA", "RSN")},
	{label: string(SecurityWPA2), all: [][]string{toks("CCMP", "TKIP", "AES")}},
}

var authRules = []capRule{
	{label: string(AuthEnterprise), all: [][]string{toks("EAP", "MGT", "ENT")}},
	{label: string(AuthSAE), all: [][]string{toks("SAE")}},
	{label: string(AuthOWE), all: [][]string{toks("OWE")}},
	{label: string(AuthPSK), all: [][]string{toks("PSK")}},
	{label: string(AuthNone), empty: true},
}

// typeRule matches either a frequency band or a capability rule.
type typeRule struct {
	result RadioType
	band   *Band
	caps   *capRule
}

var (
	wifiTokens      = toks("WPA", "WEP", "WPS", "RSN", "ESS", "CCMP", "TKIP")
	bleTokens       = toks("BLE", "BTLE", "BLUETOOTH LOW ENERGY", "BLUETOOTH-LOW-ENERGY", "BLUETOOTHLOWENERGY")
	bluetoothTokens = toks("BLUETOOTH")
	cellularTokens  = toks("LTE", "4G", "EARFCN", "5G", "NR", "3GPP")
)

var typeRules = []typeRule{
	{result: TypeWiFi, band: &Band24GHz},
	{result: TypeWiFi, band: &Band5GHz},
	{result: TypeWiFi, band: &Band6GHz},
	{result: TypeWiFi, caps: &capRule{all: [][]string{wifiTokens}}},
	{result: TypeBLE, caps: &capRule{all: [][]string{bleTokens}}},
	{result: TypeBluetooth, caps: &capRule{all: [][]string{bluetoothTokens}}},
	{result: TypeLTE, caps: &capRule{all: [][]string{cellularTokens}}},
}

func firstMatch(rules []capRule, capabilities, fallback string) string {
	norm := normalize(capabilities)
	for _, r := range rules {
		if r.match(norm) {
			return r.label
		}
	}
	return fallback
}

// InferSecurity derives the security label from a capability string.
func InferSecurity(capabilities string) Security {
	return Security(firstMatch(securityRules, capabilities, string(SecurityUnknown)))
}

// InferAuth derives the authentication method from a capability string.
func InferAuth(capabilities string) Auth {
	return Auth(firstMatch(authRules, capabilities, string(AuthUnknown)))
}

// InferRadioType returns the stored type when present, otherwise derives one
// from frequency and then capability tokens.
func InferRadioType(stored string, freq int, capabilities string) RadioType {
	if s := strings.Trim(stored, " "); s != "" {
		return RadioType(s)
	}
	norm := normalize(capabilities)
	for _, r := range typeRules {
		if r.band != nil && r.band.Contains(freq) {
			return r.result
		}
		if r.caps != nil && r.caps.match(norm) {
			return r.result
		}
	}
	return TypeUnknown
}
