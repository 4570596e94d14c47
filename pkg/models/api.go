package models

// ScorePairRequest asks for a batch of pairs to be scored. Idempotent read.
type ScorePairRequest struct {
	Pairs []PairRef `json:"pairs" validate:"required,min=1"`
}

// PairRef names one unordered pair of record ids.
type PairRef struct {
	RecordA string `json:"a_id" validate:"required"`
	RecordB string `json:"b_id" validate:"required"`
}

// ScorePairResult is one scored pair. Decision "error" with a reason code
// marks a per-pair failure; the rest of the batch is unaffected.
type ScorePairResult struct {
	RecordA         string   `json:"a_id"`
	RecordB         string   `json:"b_id"`
	RawScore        float64  `json:"score"`
	CalibratedScore float64  `json:"calibrated_score"`
	Decision        string   `json:"decision"`
	ReasonCode      string   `json:"reason_code,omitempty"`
	Factors         []Factor `json:"factors,omitempty"`
}

// ResolveRequest scores one record against explicit candidates. Advisory:
// nothing is committed until the merge endpoint is called.
type ResolveRequest struct {
	Record     Record   `json:"record" validate:"required"`
	Candidates []Record `json:"candidates" validate:"required,min=1"`
}

// ResolveResult is the advisory outcome for the best candidate.
type ResolveResult struct {
	Decision   string            `json:"decision"`
	Score      float64           `json:"score"`
	Factors    []Factor          `json:"factors"`
	Candidates []ScorePairResult `json:"candidates"`
}

// MergeCommitRequest commits a merge by decision id or explicit pair. The
// only call with a durable side effect; safe to retry via idempotency key.
type MergeCommitRequest struct {
	DecisionID string `json:"decision_id,omitempty"`
	RecordA    string `json:"a_id,omitempty"`
	RecordB    string `json:"b_id,omitempty"`
}

// CandidateStatsResponse is operational visibility for candidate generation.
type CandidateStatsResponse struct {
	TenantID        string          `json:"tenant_id"`
	CandidatesCount int             `json:"candidates_count"`
	Deferred        int             `json:"deferred"`
	SamplePairs     []CandidatePair `json:"sample_pairs"`
}
