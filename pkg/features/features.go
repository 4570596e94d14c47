// Package features computes similarity feature vectors for candidate record
// pairs. Extraction is pure and order-independent: swapping the two records
// yields an identical vector.
package features

import (
	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/similarity"
)

// Comparator names for tenant-defined custom features.
const (
	ComparatorExact       = "exact"
	ComparatorJaroWinkler = "jaro_winkler"
	ComparatorLevenshtein = "levenshtein"
	ComparatorSoundex     = "soundex"
	ComparatorNumericDiff = "numeric_diff"
)

// CustomFeature defines a tenant-configured feature over raw record attrs.
type CustomFeature struct {
	Name       string `json:"name" validate:"required"`
	Path       string `json:"path" validate:"required"`
	Comparator string `json:"comparator" validate:"required,oneof=exact jaro_winkler levenshtein soundex numeric_diff"`
	Normalizer string `json:"normalizer,omitempty"`
}

// Extractor computes feature vectors. It holds no mutable state and is safe
// for concurrent use across workers.
type Extractor struct {
	custom []CustomFeature
}

// NewExtractor creates a feature extractor with optional custom features.
func NewExtractor(custom []CustomFeature) *Extractor {
	return &Extractor{custom: custom}
}

// Extract computes the feature vector for a record pair. Missing input
// fields yield the missing sentinel, never an error; non-comparable custom
// values are reported back as FeatureExtractionErrors alongside the vector
// so the batch summary can count them.
func (e *Extractor) Extract(a, b *models.Record) (models.FeatureVector, []error) {
	// Canonical ordering makes features(a,b) == features(b,a) structural
	// rather than a property of each comparator.
	if b.ID < a.ID {
		a, b = b, a
	}

	vec := models.FeatureVector{
		models.FeatureEmailExact:  exactFeature(a.Email, b.Email, normalizers.NormalizeEmail),
		models.FeaturePhoneExact:  exactFeature(a.Phone, b.Phone, normalizers.NormalizePhone),
		models.FeatureGovIDExact:  exactFeature(a.GovID, b.GovID, normalizers.Alphanumeric),
		models.FeatureNameSim:     textFeature(a.Name, b.Name, normalizers.NormalizeName),
		models.FeatureAddressSim:  textFeature(a.Address, b.Address, normalizers.NormalizeAddress),
		models.FeatureGeoDistance: geoFeature(a, b),
		models.FeatureTimeDelta:   timeFeature(a, b),
	}

	var errs []error
	for _, cf := range e.custom {
		value, err := e.customFeature(cf, a, b)
		if err != nil {
			errs = append(errs, err)
			value = models.MissingValue
		}
		vec[cf.Name] = value
	}

	return vec, errs
}

// exactFeature returns 1 on normalized equality, 0 on inequality, and the
// missing sentinel when either side is empty.
func exactFeature(a, b string, normalize normalizers.Normalizer) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return models.MissingValue
	}
	if na == nb {
		return 1.0
	}
	return 0.0
}

func textFeature(a, b string, normalize normalizers.Normalizer) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return models.MissingValue
	}
	return similarity.JaroWinkler(na, nb)
}

func geoFeature(a, b *models.Record) float64 {
	if !a.HasGeo() || !b.HasGeo() {
		return models.MissingValue
	}
	return similarity.Haversine(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
}

func timeFeature(a, b *models.Record) float64 {
	if a.Timestamp == nil || b.Timestamp == nil {
		return models.MissingValue
	}
	return similarity.TimeDeltaHours(*a.Timestamp, *b.Timestamp)
}

func (e *Extractor) customFeature(cf CustomFeature, a, b *models.Record) (float64, error) {
	attrsA, err := extractor.FromJSON(a.Attrs)
	if err != nil {
		return 0, &models.FeatureExtractionError{Feature: cf.Name, Reason: "record a attrs are not valid JSON"}
	}
	attrsB, err := extractor.FromJSON(b.Attrs)
	if err != nil {
		return 0, &models.FeatureExtractionError{Feature: cf.Name, Reason: "record b attrs are not valid JSON"}
	}

	if cf.Comparator == ComparatorNumericDiff {
		fa, okA, errA := extractor.ExtractFloat(attrsA, cf.Path)
		fb, okB, errB := extractor.ExtractFloat(attrsB, cf.Path)
		if errA != nil || errB != nil {
			return 0, &models.FeatureExtractionError{Feature: cf.Name, Reason: "non-comparable field types"}
		}
		if !okA || !okB {
			return models.MissingValue, nil
		}
		if fa > fb {
			return fa - fb, nil
		}
		return fb - fa, nil
	}

	va, errA := extractor.ExtractString(attrsA, cf.Path)
	vb, errB := extractor.ExtractString(attrsB, cf.Path)
	if errA != nil || errB != nil {
		return 0, &models.FeatureExtractionError{Feature: cf.Name, Reason: "non-comparable field types"}
	}
	if va == nil || vb == nil || *va == "" || *vb == "" {
		return models.MissingValue, nil
	}

	sa, sb := *va, *vb
	if cf.Normalizer != "" {
		sa = normalizers.Apply(sa, cf.Normalizer)
		sb = normalizers.Apply(sb, cf.Normalizer)
	}

	switch cf.Comparator {
	case ComparatorExact:
		if sa == sb {
			return 1.0, nil
		}
		return 0.0, nil
	case ComparatorJaroWinkler:
		return similarity.JaroWinkler(sa, sb), nil
	case ComparatorLevenshtein:
		return similarity.Levenshtein(sa, sb), nil
	case ComparatorSoundex:
		return similarity.SoundexMatch(sa, sb), nil
	default:
		return 0, &models.FeatureExtractionError{Feature: cf.Name, Reason: "unknown comparator " + cf.Comparator}
	}
}
