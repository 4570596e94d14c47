// Package blocking reduces all-pairs comparison to near-linear cost by
// bucketing records through MinHash/LSH band keys and exact deterministic
// keys, then emitting each unordered candidate pair exactly once.
package blocking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Config controls blocking behavior. Bands and Rows trade recall against
// candidate volume: more bands catch more near-duplicates but emit more
// pairs.
type Config struct {
	ShingleSize int // k for k-shingles (default 3)
	Bands       int // LSH bands (default 20)
	Rows        int // signature rows per band (default 4)
	// MaxCandidates caps pairs emitted per batch; overflow is deferred, not
	// dropped. Zero means unlimited.
	MaxCandidates int
	// MinPhoneDigits is the minimum digit count for a phone blocking key.
	MinPhoneDigits int
}

// DefaultConfig returns the default blocking configuration.
func DefaultConfig() Config {
	return Config{
		ShingleSize:    3,
		Bands:          20,
		Rows:           4,
		MaxCandidates:  0,
		MinPhoneDigits: 7,
	}
}

// Result is the outcome of candidate generation for one batch.
type Result struct {
	Candidates []models.CandidatePair
	// Deferred holds pairs beyond the per-batch cap, preserved for a later
	// batch instead of stalling or dropping.
	Deferred []models.CandidatePair
	// Singletons counts records that produced no usable blocking key. They
	// emit zero candidates; this is a documented recall limitation.
	Singletons int
	// Errors holds per-record BlockingErrors; they never abort the batch.
	Errors []error
}

// Generator produces candidate pairs for a batch of records.
type Generator struct {
	logger ectologger.Logger
	cfg    Config
}

// NewGenerator creates a candidate generator.
func NewGenerator(logger ectologger.Logger, cfg Config) *Generator {
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = 3
	}
	if cfg.Bands <= 0 || cfg.Rows <= 0 {
		def := DefaultConfig()
		cfg.Bands, cfg.Rows = def.Bands, def.Rows
	}
	if cfg.MinPhoneDigits <= 0 {
		cfg.MinPhoneDigits = 7
	}
	return &Generator{logger: logger, cfg: cfg}
}

// Generate buckets the batch and emits deduplicated candidate pairs. Output
// is deterministic for a given input batch regardless of input order.
func (g *Generator) Generate(ctx context.Context, records []*models.Record) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "blocking.Generator.Generate")
	defer span.End()

	log := g.logger.WithContext(ctx).WithFields(map[string]any{
		"record_count": len(records),
		"bands":        g.cfg.Bands,
		"rows":         g.cfg.Rows,
	})

	// Sort by id so bucket membership order, and therefore pair emission
	// order, does not depend on caller ordering.
	sorted := make([]*models.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := &Result{}
	buckets := make(map[string][]string)

	for _, rec := range sorted {
		keys := g.blockingKeys(rec, result)
		if len(keys) == 0 {
			result.Singletons++
			log.WithFields(map[string]any{"record_id": rec.ID}).Debug("Record has no usable blocking key; singleton bucket")
			continue
		}
		for _, key := range keys {
			buckets[key] = append(buckets[key], rec.ID)
		}
	}

	bucketKeys := make([]string, 0, len(buckets))
	for key := range buckets {
		bucketKeys = append(bucketKeys, key)
	}
	sort.Strings(bucketKeys)

	now := time.Now().UTC()
	seen := make(map[string]struct{})

	for _, key := range bucketKeys {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		for i := 0; i < len(members)-1; i++ {
			for j := i + 1; j < len(members); j++ {
				pairKey := models.PairKey(members[i], members[j])
				if _, dup := seen[pairKey]; dup {
					continue
				}
				seen[pairKey] = struct{}{}

				pair := models.NewCandidatePair(members[i], members[j], key, now)
				if g.cfg.MaxCandidates > 0 && len(result.Candidates) >= g.cfg.MaxCandidates {
					result.Deferred = append(result.Deferred, pair)
					continue
				}
				result.Candidates = append(result.Candidates, pair)
			}
		}
	}

	log.WithFields(map[string]any{
		"candidates": len(result.Candidates),
		"deferred":   len(result.Deferred),
		"singletons": result.Singletons,
	}).Debug("Generated candidate pairs")

	return result, nil
}

// blockingKeys computes every bucket key for a record: deterministic phone
// and email keys plus MinHash band keys over the concatenated text fields.
func (g *Generator) blockingKeys(rec *models.Record, result *Result) []string {
	var keys []string

	if phone := normalizers.NormalizePhone(rec.Phone); len(phone) >= g.cfg.MinPhoneDigits {
		keys = append(keys, "phone:"+phone)
	} else if rec.Phone != "" && len(phone) > 0 {
		result.Errors = append(result.Errors, &models.BlockingError{
			RecordID: rec.ID,
			Field:    "phone",
			Err:      &models.ValidationError{RecordID: rec.ID, Reason: "phone has too few digits for blocking"},
		})
	}

	if email := normalizers.NormalizeEmail(rec.Email); email != "" {
		keys = append(keys, "email:"+email)
	}

	text := blockingText(rec)
	if text != "" {
		sig := minhash(text, g.cfg.ShingleSize, g.cfg.Bands*g.cfg.Rows)
		keys = append(keys, bandKeys(sig, g.cfg.Bands, g.cfg.Rows)...)
	}

	return keys
}

// blockingText concatenates the normalized text fields used for fuzzy
// blocking.
func blockingText(rec *models.Record) string {
	parts := make([]string, 0, 2)
	if name := normalizers.NormalizeName(rec.Name); name != "" {
		parts = append(parts, name)
	}
	if addr := normalizers.NormalizeAddress(rec.Address); addr != "" {
		parts = append(parts, addr)
	}
	return strings.Join(parts, " ")
}
