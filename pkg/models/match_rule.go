package models

// MatchRule is a deterministic rule: when every required exact-match feature
// equals 1 the pair is an immediate MERGE with score 1.0, short-circuiting
// the probabilistic scorer. Rules are evaluated in order.
type MatchRule struct {
	Name             string   `json:"name" validate:"required"`
	RequiredFeatures []string `json:"required_features" validate:"required,min=1"`
}

// FeatureWeight binds a scorer weight to a feature. Weights must be
// non-negative so the calibrated score is monotonic in every feature.
type FeatureWeight struct {
	Feature string  `json:"feature" validate:"required"`
	Weight  float64 `json:"weight" validate:"gte=0"`
}

// ScorerConfig configures the probabilistic scorer. The scorer is a
// deterministic weighted combination; there is no hidden randomness.
type ScorerConfig struct {
	ModelID string `json:"model_id"`
	// Weights over direction-normalized features (all increasing in
	// similarity after transform).
	Weights []FeatureWeight `json:"weights" validate:"min=1,dive"`
	// ImputedValue replaces the missing sentinel before weighting, in [0,1].
	ImputedValue float64 `json:"imputed_value" validate:"gte=0,lte=1"`
	// GeoScaleKM and TimeScaleHours control the decay transforms that map
	// unbounded distances/deltas into [0,1] similarities.
	GeoScaleKM     float64 `json:"geo_scale_km" validate:"gt=0"`
	TimeScaleHours float64 `json:"time_scale_hours" validate:"gt=0"`
	// Calibration is logistic over the weighted raw score.
	CalibrationMidpoint  float64 `json:"calibration_midpoint"`
	CalibrationSteepness float64 `json:"calibration_steepness" validate:"gt=0"`
}

// Thresholds are the decision-region boundaries. ReviewLow <= MergeHigh is
// validated at startup; the regions are disjoint and exhaustive.
type Thresholds struct {
	ReviewLow float64 `json:"review_low" validate:"gte=0,lte=1"`
	MergeHigh float64 `json:"merge_high" validate:"gte=0,lte=1"`
	// TopFactors is the explanation depth (top-N contributions).
	TopFactors int `json:"top_factors" validate:"gte=1"`
}
