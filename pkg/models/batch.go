package models

import "time"

// BatchSummary is the structured result of one resolution batch. Per-record
// and per-pair failures land here instead of aborting the run.
type BatchSummary struct {
	TenantID         string           `json:"tenant_id"`
	RecordsIn        int              `json:"records_in"`
	RecordsExcluded  int              `json:"records_excluded"`
	CandidatesScored int              `json:"candidates_scored"`
	Deferred         int              `json:"deferred"`
	Decisions        map[Decision]int `json:"decisions"`
	MergesCommitted  int              `json:"merges_committed"`
	ReviewQueued     int              `json:"review_queued"`
	Errors           BatchErrorCounts `json:"errors"`
	Failed           bool             `json:"failed"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at"`
}

// BatchErrorCounts breaks failures down by error class.
type BatchErrorCounts struct {
	Validation        int `json:"validation"`
	Blocking          int `json:"blocking"`
	FeatureExtraction int `json:"feature_extraction"`
	MergeConflict     int `json:"merge_conflict"`
	Storage           int `json:"storage"`
}

// NewBatchSummary returns a summary with the decision counters initialized.
func NewBatchSummary(tenantID string, startedAt time.Time) *BatchSummary {
	return &BatchSummary{
		TenantID:  tenantID,
		StartedAt: startedAt,
		Decisions: map[Decision]int{
			DecisionNoMerge: 0,
			DecisionReview:  0,
			DecisionMerge:   0,
		},
	}
}
