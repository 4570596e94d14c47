package models

import (
	"encoding/json"
	"time"
)

// CanonicalEntity is a cluster of record ids believed to represent one
// real-world entity, plus the reconciled representative field values.
// Every processed record id belongs to exactly one cluster.
type CanonicalEntity struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	MemberIDs      []string        `json:"member_ids" db:"-"`
	Representative json.RawMessage `json:"representative" db:"representative"`
	Version        int             `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// MergeEvent records one committed merge for audit and replay. Re-applying
// an event with the same idempotency key is a no-op.
type MergeEvent struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	ClusterID      string          `json:"cluster_id" db:"cluster_id"`
	MergedIDs      []string        `json:"merged_ids" db:"-"`
	DecisionID     string          `json:"decision_id" db:"decision_id"`
	Strategy       string          `json:"strategy" db:"strategy"`
	Conflicts      []MergeConflict `json:"conflicts,omitempty" db:"-"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Redundant      bool            `json:"redundant" db:"redundant"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// MergeConflict captures a field whose source values disagreed and how the
// disagreement was resolved. Discarded alternatives stay on the event so a
// merge can be audited or undone.
type MergeConflict struct {
	Field         string   `json:"field"`
	Values        []any    `json:"values"`
	Sources       []string `json:"sources"`
	Resolution    string   `json:"resolution"`
	ResolvedValue any      `json:"resolved_value"`
}
