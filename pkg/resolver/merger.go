package resolver

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// RepField is one representative field value with its provenance. Keeping
// source and observation time per field lets merge strategies stay
// commutative: the winner depends only on the pair of values, never on the
// order merges arrived.
type RepField struct {
	Value      any       `json:"value"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// Representative maps field name to its reconciled value.
type Representative map[string]RepField

func decodeRepresentative(raw json.RawMessage) (Representative, error) {
	if len(raw) == 0 {
		return Representative{}, nil
	}
	var rep Representative
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("failed to decode representative values: %w", err)
	}
	return rep, nil
}

func (r Representative) encode() (json.RawMessage, error) {
	return json.Marshal(r)
}

// repFromRecord builds a singleton representative from a record's fields.
func repFromRecord(rec *models.Record) Representative {
	observed := rec.CreatedAt
	if rec.Timestamp != nil {
		observed = *rec.Timestamp
	}

	rep := Representative{}
	set := func(field, value string) {
		if value != "" {
			rep[field] = RepField{Value: value, Source: rec.Source, ObservedAt: observed}
		}
	}
	set("name", rec.Name)
	set("email", rec.Email)
	set("phone", rec.Phone)
	set("gov_id", rec.GovID)
	set("address", rec.Address)
	if rec.HasGeo() {
		rep["latitude"] = RepField{Value: *rec.Latitude, Source: rec.Source, ObservedAt: observed}
		rep["longitude"] = RepField{Value: *rec.Longitude, Source: rec.Source, ObservedAt: observed}
	}
	return rep
}

// mergeReps reconciles two representative maps under the policy. The result
// is commutative: mergeReps(a, b) == mergeReps(b, a) for every strategy, so
// the final cluster state is independent of merge application order. A field
// conflict with strategy "none" aborts with MergeConflictError.
func mergeReps(a, b Representative, policy models.MergePolicy) (Representative, []models.MergeConflict, error) {
	merged := Representative{}
	var conflicts []models.MergeConflict

	fields := make(map[string]struct{}, len(a)+len(b))
	for f := range a {
		fields[f] = struct{}{}
	}
	for f := range b {
		fields[f] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, field := range names {
		va, okA := a[field]
		vb, okB := b[field]

		switch {
		case okA && !okB:
			merged[field] = va
		case okB && !okA:
			merged[field] = vb
		case valueKey(va.Value) == valueKey(vb.Value):
			// Same value from both sides; keep the earlier observation so
			// the result is order-independent.
			merged[field] = olderOf(va, vb)
		default:
			strategy := policy.StrategyFor(field)
			winner, err := resolveConflict(field, va, vb, strategy, policy)
			if err != nil {
				return nil, nil, err
			}
			merged[field] = winner
			conflicts = append(conflicts, models.MergeConflict{
				Field:         field,
				Values:        []any{va.Value, vb.Value},
				Sources:       []string{va.Source, vb.Source},
				Resolution:    string(strategy.Strategy),
				ResolvedValue: winner.Value,
			})
		}
	}

	return merged, conflicts, nil
}

// resolveConflict picks the surviving value for a conflicting field. Every
// branch ends in a total, symmetric ordering so the choice is the same
// whichever side the values arrived on.
func resolveConflict(field string, va, vb RepField, strategy models.FieldMergeStrategy, policy models.MergePolicy) (RepField, error) {
	switch strategy.Strategy {
	case models.MergeStrategyMostRecent:
		return newerOf(va, vb), nil

	case models.MergeStrategySourcePriority:
		pa, pb := policy.PriorityOf(va.Source), policy.PriorityOf(vb.Source)
		if pa > pb {
			return va, nil
		}
		if pb > pa {
			return vb, nil
		}
		return newerOf(va, vb), nil

	case models.MergeStrategyLongestValue:
		la, lb := len(valueKey(va.Value)), len(valueKey(vb.Value))
		if la > lb {
			return va, nil
		}
		if lb > la {
			return vb, nil
		}
		return lesserOf(va, vb), nil

	case models.MergeStrategyCollectAll:
		return collectValues(va, vb, strategy), nil

	case models.MergeStrategyPreferNonEmpty:
		ea, eb := valueKey(va.Value) == "", valueKey(vb.Value) == ""
		if ea && !eb {
			return vb, nil
		}
		if eb && !ea {
			return va, nil
		}
		return lesserOf(va, vb), nil

	case models.MergeStrategyNone:
		return RepField{}, &models.MergeConflictError{Field: field}

	default:
		return lesserOf(va, vb), nil
	}
}

// collectValues unions both sides into a sorted, deduplicated array.
func collectValues(va, vb RepField, strategy models.FieldMergeStrategy) RepField {
	var values []any
	for _, v := range []any{va.Value, vb.Value} {
		if arr, ok := v.([]any); ok {
			values = append(values, arr...)
		} else {
			values = append(values, v)
		}
	}

	seen := make(map[string]struct{}, len(values))
	deduped := values[:0]
	for _, v := range values {
		k := valueKey(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, v)
	}
	values = deduped

	sort.Slice(values, func(i, j int) bool { return valueKey(values[i]) < valueKey(values[j]) })
	if strategy.MaxItems > 0 && len(values) > strategy.MaxItems {
		values = values[:strategy.MaxItems]
	}

	return RepField{Value: values, Source: olderOf(va, vb).Source, ObservedAt: olderOf(va, vb).ObservedAt}
}

func newerOf(va, vb RepField) RepField {
	if va.ObservedAt.After(vb.ObservedAt) {
		return va
	}
	if vb.ObservedAt.After(va.ObservedAt) {
		return vb
	}
	return lesserOf(va, vb)
}

func olderOf(va, vb RepField) RepField {
	if va.ObservedAt.Before(vb.ObservedAt) {
		return va
	}
	if vb.ObservedAt.Before(va.ObservedAt) {
		return vb
	}
	return lesserOf(va, vb)
}

// lesserOf is the final, arbitrary-but-stable tie break: a total order over
// (value, source, observation time), so the winner carries the same
// provenance whichever side it arrived on.
func lesserOf(va, vb RepField) RepField {
	ka, kb := valueKey(va.Value), valueKey(vb.Value)
	if ka != kb {
		if ka < kb {
			return va
		}
		return vb
	}
	if va.Source != vb.Source {
		if va.Source < vb.Source {
			return va
		}
		return vb
	}
	if va.ObservedAt.After(vb.ObservedAt) {
		return vb
	}
	return va
}

func valueKey(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
