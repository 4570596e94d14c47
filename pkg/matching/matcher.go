// Package matching scores candidate pairs: an ordered deterministic rule
// engine short-circuits to MERGE on exact-match evidence, otherwise a
// reproducible weighted scorer produces a calibrated probability of match.
package matching

import (
	"context"
	"math"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Matcher evaluates feature vectors. It is stateless after construction and
// safe for concurrent use.
type Matcher struct {
	logger ectologger.Logger
	rules  []models.MatchRule
	cfg    models.ScorerConfig
}

// NewMatcher creates a matcher. Rule and scorer configuration problems are
// fatal here; per-pair problems never are.
func NewMatcher(logger ectologger.Logger, rules []models.MatchRule, cfg models.ScorerConfig) (*Matcher, error) {
	for _, rule := range rules {
		if rule.Name == "" {
			return nil, &models.ConfigError{Field: "rules", Reason: "rule with empty name"}
		}
		if len(rule.RequiredFeatures) == 0 {
			return nil, &models.ConfigError{Field: "rules", Reason: "rule " + rule.Name + " requires no features"}
		}
	}
	if len(cfg.Weights) == 0 {
		return nil, &models.ConfigError{Field: "scorer.weights", Reason: "no feature weights configured"}
	}
	for _, w := range cfg.Weights {
		if w.Weight < 0 {
			return nil, &models.ConfigError{Field: "scorer.weights", Reason: "negative weight for " + w.Feature}
		}
	}
	if cfg.ImputedValue < 0 || cfg.ImputedValue > 1 {
		return nil, &models.ConfigError{Field: "scorer.imputed_value", Reason: "must lie in [0,1]"}
	}
	if cfg.GeoScaleKM <= 0 || cfg.TimeScaleHours <= 0 {
		return nil, &models.ConfigError{Field: "scorer", Reason: "decay scales must be positive"}
	}
	if cfg.CalibrationSteepness <= 0 {
		return nil, &models.ConfigError{Field: "scorer.calibration_steepness", Reason: "must be positive"}
	}

	return &Matcher{logger: logger, rules: rules, cfg: cfg}, nil
}

// Score evaluates a pair's feature vector. Deterministic: identical inputs
// always produce identical output.
func (m *Matcher) Score(ctx context.Context, pair models.CandidatePair, vec models.FeatureVector) models.MatchScore {
	_, span := tracing.StartSpan(ctx, "matching.Matcher.Score")
	defer span.End()

	if rule, ok := m.firingRule(vec); ok {
		factors := make([]models.Factor, 0, len(rule.RequiredFeatures))
		for _, name := range rule.RequiredFeatures {
			factors = append(factors, models.Factor{Feature: name, Value: 1.0, Weight: 1.0, Contribution: 1.0})
		}
		sort.Slice(factors, func(i, j int) bool { return factors[i].Feature < factors[j].Feature })
		return models.MatchScore{
			RawScore:        1.0,
			CalibratedScore: 1.0,
			RuleID:          rule.Name,
			Contributions:   factors,
		}
	}

	return m.modelScore(vec)
}

// firingRule returns the first rule whose required exact-match features are
// all present and equal to 1.
func (m *Matcher) firingRule(vec models.FeatureVector) (models.MatchRule, bool) {
	for _, rule := range m.rules {
		fired := true
		for _, name := range rule.RequiredFeatures {
			if vec.IsMissing(name) || vec[name] != 1.0 {
				fired = false
				break
			}
		}
		if fired {
			return rule, true
		}
	}
	return models.MatchRule{}, false
}

// modelScore computes the weighted calibrated score. Every feature passes
// through a direction-normalizing transform first, so the calibrated score
// is monotonic in each individual similarity signal.
func (m *Matcher) modelScore(vec models.FeatureVector) models.MatchScore {
	var weightedSum, totalWeight float64
	factors := make([]models.Factor, 0, len(m.cfg.Weights))
	allMissing := true

	for _, fw := range m.cfg.Weights {
		value := models.MissingValue
		if !vec.IsMissing(fw.Feature) {
			value = vec[fw.Feature]
			allMissing = false
		}

		sim := m.normalize(fw.Feature, value)
		weightedSum += fw.Weight * sim
		totalWeight += fw.Weight
		factors = append(factors, models.Factor{
			Feature:      fw.Feature,
			Value:        value,
			Weight:       fw.Weight,
			Contribution: fw.Weight * sim,
		})
	}

	if allMissing || totalWeight == 0 {
		return models.MatchScore{ModelID: m.cfg.ModelID, LowConfidence: true}
	}

	raw := weightedSum / totalWeight
	calibrated := 1.0 / (1.0 + math.Exp(-m.cfg.CalibrationSteepness*(raw-m.cfg.CalibrationMidpoint)))

	// Rank by absolute contribution, ties broken by feature name so the
	// explanation is stable across runs.
	sort.Slice(factors, func(i, j int) bool {
		ci, cj := math.Abs(factors[i].Contribution), math.Abs(factors[j].Contribution)
		if ci != cj {
			return ci > cj
		}
		return factors[i].Feature < factors[j].Feature
	})

	return models.MatchScore{
		RawScore:        raw,
		CalibratedScore: calibrated,
		ModelID:         m.cfg.ModelID,
		Contributions:   factors,
	}
}

// normalize maps a feature value into a similarity in [0,1], increasing in
// likeness. Distances and time deltas go through bounded decay; missing
// values impute the configured neutral value.
func (m *Matcher) normalize(feature string, value float64) float64 {
	if value == models.MissingValue {
		return m.cfg.ImputedValue
	}
	switch feature {
	case models.FeatureGeoDistance:
		return 1.0 / (1.0 + value/m.cfg.GeoScaleKM)
	case models.FeatureTimeDelta:
		return 1.0 / (1.0 + value/m.cfg.TimeScaleHours)
	default:
		if value < 0 {
			return 0
		}
		if value > 1 {
			return 1
		}
		return value
	}
}
