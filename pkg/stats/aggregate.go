// Package stats implements the Statistics Aggregator (§4.H): percentiles,
// win rates, and hit counts computed over a set of HistoricalMatches.
package stats

import (
	"math"
	"sort"

	"ragpatterns/pkg/retrieve"
)

// OutcomeStats is the aggregated §3.4 outcome_4h block. Pointer fields are
// nil when undefined over an empty non-null set (§9 "aggregator returns
// tagged optional values").
type OutcomeStats struct {
	Mean          *float64
	Median        *float64
	P10           *float64
	P90           *float64
	PositiveCount int
	NegativeCount int
	WinRate       *float64
}

// SimilarityRange is [min, max] over the returned matches' similarities.
type SimilarityRange struct {
	Min float64
	Max float64
}

// Statistics is the full §3.4 OutcomeStatistics response block.
type Statistics struct {
	TotalMatches    int
	AvgSimilarity   float64
	SimilarityRange SimilarityRange
	Outcome4h       OutcomeStats
	StopLossHits    int
	TakeProfitHits  int
}

// Aggregate computes Statistics over matches. An empty slice yields a
// zeroed Statistics with nil outcome fields; on the RPC path the Retrieval
// Engine's min_matches gate (§4.G) keeps matches non-empty.
func Aggregate(matches []retrieve.Match) Statistics {
	var out Statistics
	out.TotalMatches = len(matches)

	if len(matches) == 0 {
		return out
	}

	similarities := make([]float64, len(matches))
	minSim, maxSim := matches[0].Similarity, matches[0].Similarity
	var sumSim float64
	var outcome4h []float64

	for i, m := range matches {
		similarities[i] = m.Similarity
		sumSim += m.Similarity
		if m.Similarity < minSim {
			minSim = m.Similarity
		}
		if m.Similarity > maxSim {
			maxSim = m.Similarity
		}
		if m.Outcome4h != nil {
			outcome4h = append(outcome4h, *m.Outcome4h)
		}
		if m.HitStopLoss != nil && *m.HitStopLoss {
			out.StopLossHits++
		}
		if m.HitTakeProfit != nil && *m.HitTakeProfit {
			out.TakeProfitHits++
		}
	}

	out.AvgSimilarity = sumSim / float64(len(matches))
	out.SimilarityRange = SimilarityRange{Min: minSim, Max: maxSim}
	out.Outcome4h = aggregateOutcome4h(outcome4h)
	return out
}

func aggregateOutcome4h(values []float64) OutcomeStats {
	var out OutcomeStats
	n := len(values)
	if n == 0 {
		return out
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := sum(sorted) / float64(n)
	out.Mean = &mean

	median := interpolatedMedian(sorted)
	out.Median = &median

	p10 := nearestRank(sorted, 0.10)
	out.P10 = &p10
	p90 := nearestRank(sorted, 0.90)
	out.P90 = &p90

	for _, v := range values {
		switch {
		case v > 0:
			out.PositiveCount++
		case v < 0:
			out.NegativeCount++
		}
	}
	winRate := float64(out.PositiveCount) / float64(n)
	out.WinRate = &winRate

	return out
}

// nearestRank returns the value at index = round((n-1) * q) of a sorted
// slice (§4.H, §8 property 8): this is nearest-rank, not interpolated —
// used for p10/p90, never for the median.
func nearestRank(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := int(math.Round(float64(n-1) * q))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// interpolatedMedian linearly interpolates between the two middle
// elements for even counts, matching the one percentile spec.md
// explicitly defines differently from nearest-rank.
func interpolatedMedian(sorted []float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
