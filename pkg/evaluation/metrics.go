package evaluation

import "sort"

// Metrics is the deterministic output of one evaluation run.
type Metrics struct {
	Pairs            int     `json:"pairs"`
	Positives        int     `json:"positives"`
	Negatives        int     `json:"negatives"`
	Precision        float64 `json:"precision"`
	Recall           float64 `json:"recall"`
	ROCAUC           float64 `json:"roc_auc"`
	AveragePrecision float64 `json:"average_precision"`
}

// scoredPair carries one evaluated pair through metric computation.
type scoredPair struct {
	key       string
	score     float64
	label     bool
	predicted bool // decision == MERGE
}

// computeMetrics derives precision/recall from hard decisions and
// ROC-AUC/average precision from the calibrated score ranking. Ranking ties
// are broken by pair id so identical inputs always produce bit-identical
// metrics.
func computeMetrics(pairs []scoredPair) Metrics {
	m := Metrics{Pairs: len(pairs)}

	var tp, fp, fn int
	for _, p := range pairs {
		if p.label {
			m.Positives++
		} else {
			m.Negatives++
		}
		switch {
		case p.predicted && p.label:
			tp++
		case p.predicted && !p.label:
			fp++
		case !p.predicted && p.label:
			fn++
		}
	}

	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}

	if m.Positives == 0 || m.Negatives == 0 {
		// A single-class dataset has no meaningful ranking quality.
		return m
	}

	ranked := make([]scoredPair, len(pairs))
	copy(ranked, pairs)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].key < ranked[j].key
	})

	m.ROCAUC = rocAUC(ranked, m.Positives, m.Negatives)
	m.AveragePrecision = averagePrecision(ranked, m.Positives)
	return m
}

// rocAUC integrates the ROC curve with the trapezoid rule, stepping once per
// distinct score so tied scores contribute a diagonal segment.
func rocAUC(ranked []scoredPair, positives, negatives int) float64 {
	var auc, tp, fp float64
	prevTP, prevFP := 0.0, 0.0

	i := 0
	for i < len(ranked) {
		j := i
		for j < len(ranked) && ranked[j].score == ranked[i].score {
			if ranked[j].label {
				tp++
			} else {
				fp++
			}
			j++
		}
		auc += (fp - prevFP) * (tp + prevTP) / 2
		prevTP, prevFP = tp, fp
		i = j
	}

	return auc / (float64(positives) * float64(negatives))
}

// averagePrecision sums precision at each true positive in rank order.
func averagePrecision(ranked []scoredPair, positives int) float64 {
	var sum float64
	var tp int
	for i, p := range ranked {
		if !p.label {
			continue
		}
		tp++
		sum += float64(tp) / float64(i+1)
	}
	return sum / float64(positives)
}
