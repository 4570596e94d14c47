package models

import "time"

// Decision is the three-way outcome of scoring a candidate pair.
type Decision string

const (
	DecisionNoMerge Decision = "NO_MERGE"
	DecisionReview  Decision = "REVIEW"
	DecisionMerge   Decision = "MERGE"
)

// Factor is one ranked feature contribution in a decision explanation.
type Factor struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// MatchDecision is the persisted, explainable outcome of scoring a pair.
type MatchDecision struct {
	ID              string    `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	RecordA         string    `json:"record_a" db:"record_a"`
	RecordB         string    `json:"record_b" db:"record_b"`
	RawScore        float64   `json:"raw_score" db:"raw_score"`
	CalibratedScore float64   `json:"calibrated_score" db:"calibrated_score"`
	Decision        Decision  `json:"decision" db:"decision"`
	RuleID          string    `json:"rule_id,omitempty" db:"rule_id"`
	ModelID         string    `json:"model_id,omitempty" db:"model_id"`
	LowConfidence   bool      `json:"low_confidence" db:"low_confidence"`
	Factors         []Factor  `json:"factors,omitempty" db:"-"`
	Status          string    `json:"status" db:"status"`
	DecidedAt       time.Time `json:"decided_at" db:"decided_at"`
}

// Review queue statuses for persisted decisions.
const (
	DecisionStatusPending  = "pending"
	DecisionStatusApproved = "approved"
	DecisionStatusRejected = "rejected"
	DecisionStatusDeferred = "deferred"
	DecisionStatusApplied  = "applied"
)

// MatchScore is the matcher output before thresholding.
type MatchScore struct {
	RawScore        float64
	CalibratedScore float64
	RuleID          string
	ModelID         string
	LowConfidence   bool
	Contributions   []Factor
}

// RuleFired reports whether a deterministic rule short-circuited scoring.
func (s MatchScore) RuleFired() bool {
	return s.RuleID != ""
}
