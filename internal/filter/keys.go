// Package filter defines the registry of recognized explorer filter keys and
// turns an untyped request payload into a typed, fully expanded Spec.
//
// A filter only takes effect when its key is explicitly enabled. Values of
// disabled keys are never decoded, so they cannot influence the compiled query.
package filter

// Key identifies one recognized filter.
type Key string

const (
	KeySSID                    Key = "ssid"
	KeyBSSID                   Key = "bssid"
	KeyManufacturer            Key = "manufacturer"
	KeyRadioTypes              Key = "radioTypes"
	KeyFrequencyBands          Key = "frequencyBands"
	KeyChannelMin              Key = "channelMin"
	KeyChannelMax              Key = "channelMax"
	KeyRSSIMin                 Key = "rssiMin"
	KeyRSSIMax                 Key = "rssiMax"
	KeyEncryptionTypes         Key = "encryptionTypes"
	KeyAuthMethods             Key = "authMethods"
	KeyInsecureFlags           Key = "insecureFlags"
	KeySecurityFlags           Key = "securityFlags"
	KeyTimeframe               Key = "timeframe"
	KeyTemporalScope           Key = "temporalScope"
	KeyObservationCountMin     Key = "observationCountMin"
	KeyObservationCountMax     Key = "observationCountMax"
	KeyGPSAccuracyMax          Key = "gpsAccuracyMax"
	KeyExcludeInvalidCoords    Key = "excludeInvalidCoords"
	KeyQualityFilter           Key = "qualityFilter"
	KeyDistanceFromHomeMin     Key = "distanceFromHomeMin"
	KeyDistanceFromHomeMax     Key = "distanceFromHomeMax"
	KeyBoundingBox             Key = "boundingBox"
	KeyRadiusFilter            Key = "radiusFilter"
	KeyThreatScoreMin          Key = "threatScoreMin"
	KeyThreatScoreMax          Key = "threatScoreMax"
	KeyThreatCategories        Key = "threatCategories"
	KeyStationaryConfidenceMin Key = "stationaryConfidenceMin"
	KeyStationaryConfidenceMax Key = "stationaryConfidenceMax"

	// Produced by expanding qualityFilter; never accepted from a payload.
	KeyQualityTemporalClusters Key = "qualityTemporalClusters"
	KeyQualityExtremeSignals   Key = "qualityExtremeSignals"
	KeyQualityDuplicateCoords  Key = "qualityDuplicateCoords"
)

// Category groups keys for reporting.
type Category string

const (
	CategoryIdentity Category = "identity"
	CategoryRadio    Category = "radio"
	CategorySecurity Category = "security"
	CategoryTemporal Category = "temporal"
	CategoryQuality  Category = "quality"
	CategorySpatial  Category = "spatial"
	CategoryThreat   Category = "threat"
)

type kind int

const (
	kindText kind = iota
	kindNumber
	kindSet
	kindFlag
	kindWindow
	kindScope
	kindQuality
	kindBox
	kindCircle
)

// Def describes one registry entry.
type Def struct {
	Key      Key
	Category Category
	// NetworkOnly keys compile against the access point aggregate even when
	// the query otherwise works on observation rows.
	NetworkOnly bool
	kind        kind
	internal    bool
}

var registry = []Def{
	{Key: KeySSID, Category: CategoryIdentity, NetworkOnly: true, kind: kindText},
	{Key: KeyBSSID, Category: CategoryIdentity, NetworkOnly: true, kind: kindText},
	{Key: KeyManufacturer, Category: CategoryIdentity, NetworkOnly: true, kind: kindText},
	{Key: KeyRadioTypes, Category: CategoryRadio, NetworkOnly: true, kind: kindSet},
	{Key: KeyFrequencyBands, Category: CategoryRadio, NetworkOnly: true, kind: kindSet},
	{Key: KeyChannelMin, Category: CategoryRadio, NetworkOnly: true, kind: kindNumber},
	{Key: KeyChannelMax, Category: CategoryRadio, NetworkOnly: true, kind: kindNumber},
	{Key: KeyRSSIMin, Category: CategoryRadio, NetworkOnly: true, kind: kindNumber},
	{Key: KeyRSSIMax, Category: CategoryRadio, NetworkOnly: true, kind: kindNumber},
	{Key: KeyEncryptionTypes, Category: CategorySecurity, NetworkOnly: true, kind: kindSet},
	{Key: KeyAuthMethods, Category: CategorySecurity, NetworkOnly: true, kind: kindSet},
	{Key: KeyInsecureFlags, Category: CategorySecurity, NetworkOnly: true, kind: kindSet},
	{Key: KeySecurityFlags, Category: CategorySecurity, NetworkOnly: true, kind: kindSet},
	{Key: KeyTimeframe, Category: CategoryTemporal, kind: kindWindow},
	{Key: KeyTemporalScope, Category: CategoryTemporal, kind: kindScope},
	{Key: KeyObservationCountMin, Category: CategoryQuality, NetworkOnly: true, kind: kindNumber},
	{Key: KeyObservationCountMax, Category: CategoryQuality, NetworkOnly: true, kind: kindNumber},
	{Key: KeyGPSAccuracyMax, Category: CategoryQuality, kind: kindNumber},
	{Key: KeyExcludeInvalidCoords, Category: CategoryQuality, kind: kindFlag},
	{Key: KeyQualityFilter, Category: CategoryQuality, kind: kindQuality},
	{Key: KeyDistanceFromHomeMin, Category: CategorySpatial, NetworkOnly: true, kind: kindNumber},
	{Key: KeyDistanceFromHomeMax, Category: CategorySpatial, NetworkOnly: true, kind: kindNumber},
	{Key: KeyBoundingBox, Category: CategorySpatial, NetworkOnly: true, kind: kindBox},
	{Key: KeyRadiusFilter, Category: CategorySpatial, NetworkOnly: true, kind: kindCircle},
	{Key: KeyThreatScoreMin, Category: CategoryThreat, NetworkOnly: true, kind: kindNumber},
	{Key: KeyThreatScoreMax, Category: CategoryThreat, NetworkOnly: true, kind: kindNumber},
	{Key: KeyThreatCategories, Category: CategoryThreat, NetworkOnly: true, kind: kindSet},
	{Key: KeyStationaryConfidenceMin, Category: CategoryThreat, NetworkOnly: true, kind: kindNumber},
	{Key: KeyStationaryConfidenceMax, Category: CategoryThreat, NetworkOnly: true, kind: kindNumber},

	{Key: KeyQualityTemporalClusters, Category: CategoryQuality, kind: kindFlag, internal: true},
	{Key: KeyQualityExtremeSignals, Category: CategoryQuality, kind: kindFlag, internal: true},
	{Key: KeyQualityDuplicateCoords, Category: CategoryQuality, kind: kindFlag, internal: true},
}

var byKey = func() map[Key]Def {
	m := make(map[Key]Def, len(registry))
	for _, d := range registry {
		m[d.Key] = d
	}
	return m
}()

// Lookup returns the registry entry for a payload key. Internal keys are not
// visible to callers.
func Lookup(name string) (Def, bool) {
	d, ok := byKey[Key(name)]
	if !ok || d.internal {
		return Def{}, false
	}
	return d, true
}

// Keys returns every key accepted from a payload, in registry order.
func Keys() []Key {
	keys := make([]Key, 0, len(registry))
	for _, d := range registry {
		if !d.internal {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// IsNetworkOnly reports whether k always binds to the access point relation.
func IsNetworkOnly(k Key) bool {
	return byKey[k].NetworkOnly
}

// CategoryOf returns the reporting category of k.
func CategoryOf(k Key) Category {
	return byKey[k].Category
}
