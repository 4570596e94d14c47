package models

import "sort"

// MissingValue is the sentinel recorded when a feature cannot be computed
// because one or both records lack the input field. Downstream scoring
// applies deterministic imputation to sentinel values; they are never errors.
const MissingValue = -1.0

// Well-known feature names. Custom features are tenant-defined and live in
// the same vector under their configured names.
const (
	FeatureEmailExact  = "email_exact"
	FeaturePhoneExact  = "phone_exact"
	FeatureGovIDExact  = "gov_id_exact"
	FeatureNameSim     = "name_similarity"
	FeatureAddressSim  = "address_similarity"
	FeatureGeoDistance = "geo_distance_km"
	FeatureTimeDelta   = "time_delta_hours"
)

// FeatureVector maps feature name to value. Exact-match features are 0 or 1,
// similarity ratios lie in [0,1], distances and deltas are >= 0, and
// MissingValue marks inputs that were absent.
type FeatureVector map[string]float64

// IsMissing reports whether the named feature carries the missing sentinel
// or is absent from the vector entirely.
func (v FeatureVector) IsMissing(name string) bool {
	val, ok := v[name]
	return !ok || val == MissingValue
}

// Names returns the feature names in sorted order. Every consumer that
// iterates a vector goes through this so results are reproducible.
func (v FeatureVector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
