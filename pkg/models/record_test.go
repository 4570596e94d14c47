package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewCandidatePair(t *testing.T) {
	t.Run("canonical ordering", func(t *testing.T) {
		p := NewCandidatePair("r9", "r1", "email:x", time.Now())
		assert.Equal(t, "r1", p.RecordA)
		assert.Equal(t, "r9", p.RecordB)
	})

	t.Run("key is order independent", func(t *testing.T) {
		a := NewCandidatePair("r1", "r2", "k", time.Now())
		b := NewCandidatePair("r2", "r1", "k", time.Now())
		assert.Equal(t, a.Key(), b.Key())
	})
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "a|b", PairKey("a", "b"))
	assert.Equal(t, "a|b", PairKey("b", "a"))
}

func TestHasGeo(t *testing.T) {
	lat, lon := 40.7, -74.0

	assert.False(t, (&Record{}).HasGeo())
	assert.False(t, (&Record{Latitude: &lat}).HasGeo())
	assert.True(t, (&Record{Latitude: &lat, Longitude: &lon}).HasGeo())
}

func TestMergePolicy(t *testing.T) {
	policy := MergePolicy{
		DefaultStrategy: MergeStrategyMostRecent,
		FieldStrategies: []FieldMergeStrategy{
			{Field: "email", Strategy: MergeStrategyCollectAll, MaxItems: 5},
		},
		SourcePriorities: []SourcePriority{
			{Source: "crm", Priority: 10},
		},
	}

	t.Run("field strategy lookup", func(t *testing.T) {
		fs := policy.StrategyFor("email")
		assert.Equal(t, MergeStrategyCollectAll, fs.Strategy)
		assert.Equal(t, 5, fs.MaxItems)
	})

	t.Run("falls back to default", func(t *testing.T) {
		fs := policy.StrategyFor("name")
		assert.Equal(t, MergeStrategyMostRecent, fs.Strategy)
	})

	t.Run("source priority", func(t *testing.T) {
		assert.Equal(t, 10, policy.PriorityOf("crm"))
		assert.Equal(t, 0, policy.PriorityOf("unranked"))
	})
}

func TestFeatureVector(t *testing.T) {
	vec := FeatureVector{
		FeatureEmailExact: 1.0,
		FeatureNameSim:    MissingValue,
	}

	assert.False(t, vec.IsMissing(FeatureEmailExact))
	assert.True(t, vec.IsMissing(FeatureNameSim))
	assert.True(t, vec.IsMissing("never_computed"))
	assert.Equal(t, []string{FeatureEmailExact, FeatureNameSim}, vec.Names())
}
