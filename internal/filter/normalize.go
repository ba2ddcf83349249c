package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload is returned when a filter payload cannot be decoded at
// all, or when it fails validation.
var ErrInvalidPayload = errors.New("invalid filter payload")

// Reasons reported for ignored filters.
const (
	ReasonEnabledWithoutValue = "enabled_without_value"
	ReasonMalformedValue      = "malformed_value"
)

// Ignored records an enabled filter that did not take effect.
type Ignored struct {
	Type   Category `json:"type"`
	Field  Key      `json:"field"`
	Reason string   `json:"reason"`
}

// Spec is a normalized filter specification. Only enabled keys with a usable
// value are present; qualityFilter has already been expanded.
type Spec struct {
	values   map[Key]Value
	Ignored  []Ignored
	Warnings []string
}

// NewSpec returns an empty specification.
func NewSpec() *Spec {
	return &Spec{values: make(map[Key]Value)}
}

// Set enables k with v. It is intended for callers that build a Spec in code
// (CLI, tests); payloads go through Normalize. Setting qualityFilter expands it.
func (s *Spec) Set(k Key, v Value) *Spec {
	if k == KeyQualityFilter {
		if p, ok := v.(QualityPreset); ok {
			s.values[k] = p
			s.expandQuality(p)
		}
		return s
	}
	s.values[k] = v
	return s
}

// SetMembers enables a multi-select key with the given members.
func (s *Spec) SetMembers(k Key, members ...string) *Spec {
	labels, _ := expandSet(k, members)
	return s.Set(k, Set{Raw: members, Labels: labels})
}

// Get returns the value of an enabled key.
func (s *Spec) Get(k Key) (Value, bool) {
	v, ok := s.values[k]
	return v, ok
}

// Enabled reports whether k is active.
func (s *Spec) Enabled(k Key) bool {
	_, ok := s.values[k]
	return ok
}

// Number returns the numeric value of k.
func (s *Spec) Number(k Key) (float64, bool) {
	v, ok := s.values[k].(Number)
	return float64(v), ok
}

// Scope returns the temporal scope, defaulting to observation time.
func (s *Spec) Scope() Scope {
	if v, ok := s.values[KeyTemporalScope].(Scope); ok {
		return v
	}
	return ScopeObservationTime
}

// Active returns the enabled keys in registry order.
func (s *Spec) Active() []Key {
	keys := make([]Key, 0, len(s.values))
	for _, d := range registry {
		if _, ok := s.values[d.Key]; ok {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

func (s *Spec) ignore(k Key, reason string) {
	s.Ignored = append(s.Ignored, Ignored{Type: CategoryOf(k), Field: k, Reason: reason})
}

func (s *Spec) expandQuality(p QualityPreset) {
	switch p {
	case QualityTemporal:
		s.values[KeyQualityTemporalClusters] = Flag(true)
	case QualityExtreme:
		s.values[KeyQualityExtremeSignals] = Flag(true)
	case QualityDuplicate:
		s.values[KeyQualityDuplicateCoords] = Flag(true)
	case QualityAll:
		s.values[KeyQualityTemporalClusters] = Flag(true)
		s.values[KeyQualityExtremeSignals] = Flag(true)
		s.values[KeyQualityDuplicateCoords] = Flag(true)
	}
}

// Parse decodes the JSON filters and enabled objects and normalizes them.
// Either document may be empty.
func Parse(filtersJSON, enabledJSON []byte) (*Spec, error) {
	raw := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(filtersJSON)) > 0 {
		if err := json.Unmarshal(filtersJSON, &raw); err != nil {
			return nil, fmt.Errorf("%w: filters: %v", ErrInvalidPayload, err)
		}
	}
	flags := map[string]any{}
	if len(bytes.TrimSpace(enabledJSON)) > 0 {
		if err := json.Unmarshal(enabledJSON, &flags); err != nil {
			return nil, fmt.Errorf("%w: enabled: %v", ErrInvalidPayload, err)
		}
	}
	enabled := make(map[string]bool, len(flags))
	for k, v := range flags {
		switch b := v.(type) {
		case bool:
			enabled[k] = b
		case string:
			enabled[k] = b == "true"
		}
	}
	return Normalize(raw, enabled), nil
}

// Normalize builds a Spec from raw values and enabled flags. Unknown keys are
// dropped, keys absent from enabled are disabled, and a key whose value is
// missing or malformed is skipped and reported in Spec.Ignored.
func Normalize(raw map[string]json.RawMessage, enabled map[string]bool) *Spec {
	s := NewSpec()
	for _, d := range registry {
		if d.internal || !enabled[string(d.Key)] {
			continue
		}
		msg, present := raw[string(d.Key)]
		if !present || isNull(msg) {
			if d.kind == kindFlag {
				// A bare enabled switch means on.
				s.values[d.Key] = Flag(true)
				continue
			}
			s.ignore(d.Key, ReasonEnabledWithoutValue)
			continue
		}
		v, err := decode(d, msg)
		switch {
		case errors.Is(err, errEmpty):
			s.ignore(d.Key, ReasonEnabledWithoutValue)
			continue
		case err != nil:
			s.ignore(d.Key, ReasonMalformedValue)
			continue
		}
		if set, ok := v.(Set); ok {
			labels, unknown := expandSet(d.Key, set.Raw)
			if len(unknown) > 0 {
				s.Warnings = append(s.Warnings,
					fmt.Sprintf("%s: unrecognized values %s", d.Key, strings.Join(unknown, ", ")))
			}
			set.Labels = labels
			v = set
		}
		if p, ok := v.(QualityPreset); ok && p == QualityNone {
			continue
		}
		s.Set(d.Key, v)
	}
	return s
}

var errEmpty = errors.New("empty value")

func isNull(msg json.RawMessage) bool {
	t := bytes.TrimSpace(msg)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decode(d Def, msg json.RawMessage) (Value, error) {
	switch d.kind {
	case kindText:
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return nil, err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil, errEmpty
		}
		return Text(str), nil

	case kindNumber:
		n, err := decodeNumber(msg)
		if err != nil {
			return nil, err
		}
		return Number(n), nil

	case kindFlag:
		var b bool
		if err := json.Unmarshal(msg, &b); err == nil {
			return Flag(b), nil
		}
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return nil, err
		}
		b, err := strconv.ParseBool(str)
		if err != nil {
			return nil, err
		}
		return Flag(b), nil

	case kindSet:
		var members []string
		if err := json.Unmarshal(msg, &members); err != nil {
			var single string
			if err := json.Unmarshal(msg, &single); err != nil {
				return nil, err
			}
			members = []string{single}
		}
		return Set{Raw: members}, nil

	case kindWindow:
		return decodeWindow(msg)

	case kindScope:
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return ScopeObservationTime, nil
		}
		switch sc := Scope(str); sc {
		case ScopeObservationTime, ScopeNetworkLifetime, ScopeThreatWindow:
			return sc, nil
		}
		return ScopeObservationTime, nil

	case kindQuality:
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return nil, err
		}
		switch p := QualityPreset(strings.ToLower(strings.TrimSpace(str))); p {
		case QualityNone, QualityTemporal, QualityExtreme, QualityDuplicate, QualityAll:
			return p, nil
		}
		return nil, fmt.Errorf("unknown quality preset %q", str)

	case kindBox:
		var b struct {
			North, South, East, West *json.RawMessage
		}
		if err := json.Unmarshal(msg, &b); err != nil {
			return nil, err
		}
		var box Box
		for _, f := range []struct {
			raw *json.RawMessage
			dst *float64
		}{{b.North, &box.North}, {b.South, &box.South}, {b.East, &box.East}, {b.West, &box.West}} {
			if f.raw == nil {
				return nil, errors.New("incomplete bounding box")
			}
			n, err := decodeNumber(*f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = n
		}
		return box, nil

	case kindCircle:
		var c struct {
			Latitude, Longitude, RadiusMeters *json.RawMessage
		}
		if err := json.Unmarshal(msg, &c); err != nil {
			return nil, err
		}
		var circle Circle
		for _, f := range []struct {
			raw *json.RawMessage
			dst *float64
		}{{c.Latitude, &circle.Latitude}, {c.Longitude, &circle.Longitude}, {c.RadiusMeters, &circle.RadiusMeters}} {
			if f.raw == nil {
				return nil, errors.New("incomplete radius filter")
			}
			n, err := decodeNumber(*f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = n
		}
		return circle, nil
	}
	return nil, fmt.Errorf("unhandled key %s", d.Key)
}

// decodeNumber accepts a JSON number or a numeric string. Non-finite values
// are rejected.
func decodeNumber(msg json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(msg, &n); err != nil {
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return 0, err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return 0, errEmpty
		}
		n, err = strconv.ParseFloat(str, 64)
		if err != nil {
			return 0, err
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, errors.New("non-finite number")
	}
	return n, nil
}

func decodeWindow(msg json.RawMessage) (Value, error) {
	var tf struct {
		Type           string  `json:"type"`
		StartTimestamp *string `json:"startTimestamp"`
		EndTimestamp   *string `json:"endTimestamp"`
		RelativeWindow string  `json:"relativeWindow"`
	}
	if err := json.Unmarshal(msg, &tf); err != nil {
		return nil, err
	}
	switch tf.Type {
	case "", "relative":
		w := tf.RelativeWindow
		if w == "" {
			w = DefaultRelativeWindow
		}
		if _, ok := RelativeWindows[w]; !ok {
			return nil, fmt.Errorf("unknown relative window %q", w)
		}
		return Window{Relative: w}, nil
	case "absolute":
		start, err := parseTimestamp(tf.StartTimestamp)
		if err != nil {
			return nil, err
		}
		end, err := parseTimestamp(tf.EndTimestamp)
		if err != nil {
			return nil, err
		}
		if start == nil && end == nil {
			return nil, errEmpty
		}
		return Window{Start: start, End: end}, nil
	}
	return nil, fmt.Errorf("unknown timeframe type %q", tf.Type)
}

func parseTimestamp(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || v == "null" || v == "undefined" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid timestamp %q", v)
}
