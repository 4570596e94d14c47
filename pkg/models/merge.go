package models

// MergeStrategyType defines how to reconcile a field when folding records
// into a canonical entity.
type MergeStrategyType string

const (
	// MergeStrategyMostRecent uses the value from the newest record
	MergeStrategyMostRecent MergeStrategyType = "most_recent"
	// MergeStrategySourcePriority uses the value from the most trusted source
	MergeStrategySourcePriority MergeStrategyType = "source_priority"
	// MergeStrategyCollectAll combines all values into an array
	MergeStrategyCollectAll MergeStrategyType = "collect_all"
	// MergeStrategyLongestValue uses the longest string value
	MergeStrategyLongestValue MergeStrategyType = "longest"
	// MergeStrategyPreferNonEmpty uses the first non-empty value
	MergeStrategyPreferNonEmpty MergeStrategyType = "prefer_non_empty"
	// MergeStrategyNone marks a field with no configured strategy; a conflict
	// on such a field escalates the pair to REVIEW instead of resolving
	MergeStrategyNone MergeStrategyType = "none"
)

// FieldMergeStrategy binds a merge strategy to a representative field.
type FieldMergeStrategy struct {
	Field    string            `json:"field"`
	Strategy MergeStrategyType `json:"strategy"`
	MaxItems int               `json:"max_items,omitempty"` // collect_all
}

// SourcePriority defines source trust levels for source_priority merges.
// Higher priority wins.
type SourcePriority struct {
	Source   string `json:"source"`
	Priority int    `json:"priority"`
}

// MergePolicy is the per-tenant merge configuration applied by the resolver.
type MergePolicy struct {
	DefaultStrategy  MergeStrategyType    `json:"default_strategy"`
	FieldStrategies  []FieldMergeStrategy `json:"field_strategies,omitempty"`
	SourcePriorities []SourcePriority     `json:"source_priorities,omitempty"`
	// RecordRedundantMerges controls whether a merge whose records already
	// share a cluster still appends a (redundant-flagged) MergeEvent or is
	// silently skipped as already implied.
	RecordRedundantMerges bool `json:"record_redundant_merges"`
}

// StrategyFor returns the configured strategy for a field, falling back to
// the policy default.
func (p MergePolicy) StrategyFor(field string) FieldMergeStrategy {
	for _, fs := range p.FieldStrategies {
		if fs.Field == field {
			return fs
		}
	}
	return FieldMergeStrategy{Field: field, Strategy: p.DefaultStrategy}
}

// PriorityOf returns the trust level for a source, zero when unranked.
func (p MergePolicy) PriorityOf(source string) int {
	for _, sp := range p.SourcePriorities {
		if sp.Source == source {
			return sp.Priority
		}
	}
	return 0
}
