package models

import (
	"errors"
	"fmt"
)

// Domain error classes. Per-record and per-pair failures are isolated,
// counted in the batch summary, and never abort a batch; only configuration
// errors are fatal at startup.

// ValidationError marks a malformed record (missing id). The record is
// excluded from the batch and counted.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %q: %s", e.RecordID, e.Reason)
}

// BlockingError marks a failed blocking-key computation on one field. The
// record degrades to a singleton bucket.
type BlockingError struct {
	RecordID string
	Field    string
	Err      error
}

func (e *BlockingError) Error() string {
	return fmt.Sprintf("blocking key for record %s field %s: %v", e.RecordID, e.Field, e.Err)
}

func (e *BlockingError) Unwrap() error { return e.Err }

// FeatureExtractionError marks a non-comparable field pair. The feature
// receives the missing sentinel.
type FeatureExtractionError struct {
	Feature string
	Reason  string
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("feature %s: %s", e.Feature, e.Reason)
}

// MergeConflictError marks an irreconcilable field conflict with no
// configured strategy. The pair is escalated to REVIEW, never silently
// resolved.
type MergeConflictError struct {
	Field string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("no merge strategy configured for conflicting field %q", e.Field)
}

// StorageError wraps a persistence failure. Storage calls are retried with
// exponential backoff; an exhausted retry budget surfaces the batch as
// failed-and-replayable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ConfigError is fatal at startup (invalid thresholds, missing rule or
// model definitions).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
