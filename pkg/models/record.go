package models

import (
	"encoding/json"
	"time"
)

// Record is one ingested observation of a real-world entity. Records are
// produced by upstream connectors (already normalized) and are immutable here.
type Record struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	Source    string          `json:"source" db:"source"`
	Name      string          `json:"name,omitempty" db:"name"`
	Email     string          `json:"email,omitempty" db:"email"`
	Phone     string          `json:"phone,omitempty" db:"phone"`
	GovID     string          `json:"gov_id,omitempty" db:"gov_id"`
	Address   string          `json:"address,omitempty" db:"address"`
	Latitude  *float64        `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64        `json:"longitude,omitempty" db:"longitude"`
	Timestamp *time.Time      `json:"timestamp,omitempty" db:"timestamp"`
	Attrs     json.RawMessage `json:"attrs,omitempty" db:"attrs"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// HasGeo reports whether the record carries a usable coordinate pair.
func (r *Record) HasGeo() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// CandidatePair is a pair of record ids flagged for comparison by the
// blocking generator. IDs are canonically ordered so that an unordered pair
// has exactly one representation.
type CandidatePair struct {
	RecordA     string    `json:"record_a"`
	RecordB     string    `json:"record_b"`
	BlockingKey string    `json:"blocking_key"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewCandidatePair returns a pair with ids in canonical (min, max) order.
func NewCandidatePair(a, b, blockingKey string, at time.Time) CandidatePair {
	if b < a {
		a, b = b, a
	}
	return CandidatePair{RecordA: a, RecordB: b, BlockingKey: blockingKey, GeneratedAt: at}
}

// Key returns the canonical dedup key for the unordered pair.
func (p CandidatePair) Key() string {
	return p.RecordA + "|" + p.RecordB
}

// PairKey builds the canonical dedup key for two record ids without
// allocating a CandidatePair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
