// Package evaluation replays labeled golden datasets through feature
// extraction, matching, and decisioning to compute regression metrics for
// CI gating.
package evaluation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// LabeledPair is one golden dataset entry: two records plus the
// ground-truth verdict on whether they are the same entity.
type LabeledPair struct {
	RecordA models.Record `json:"record_a"`
	RecordB models.Record `json:"record_b"`
	Label   bool          `json:"label"`
}

// key returns the canonical pair id used for deterministic ordering.
func (p LabeledPair) key() string {
	return models.PairKey(p.RecordA.ID, p.RecordB.ID)
}

// LoadDataset reads a JSON-lines golden dataset. Pairs are returned sorted
// by canonical pair id so every downstream computation is independent of
// file order.
func LoadDataset(path string) ([]LabeledPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open golden dataset: %w", err)
	}
	defer f.Close()

	pairs, err := ReadDataset(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read golden dataset %s: %w", path, err)
	}
	return pairs, nil
}

// ReadDataset decodes labeled pairs from a JSON-lines stream.
func ReadDataset(r io.Reader) ([]LabeledPair, error) {
	var pairs []LabeledPair

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var pair LabeledPair
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if pair.RecordA.ID == "" || pair.RecordB.ID == "" {
			return nil, fmt.Errorf("line %d: labeled pair is missing a record id", line)
		}
		pairs = append(pairs, pair)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key() < pairs[j].key() })
	return pairs, nil
}
