package search

import (
	"sort"
)

// fusedCandidate accumulates per-source ranks during fusion.
type fusedCandidate struct {
	ChunkID   string
	RRFScore  float64
	VecScore  float64
	VecRank   int
	BM25Score float64
	BM25Rank  int
	Row       int
}

// rankedEntry is one (chunk, score) pair from a single source list,
// already ordered best-first.
type rankedEntry struct {
	ChunkID string
	Score   float64
	Row     int
}

// fuseRRF combines ranked lists with Reciprocal Rank Fusion:
//
//	score(c) = sum over lists containing c of 1 / (k + rank(c))
//
// with 1-based ranks. RRF scores are then scaled by a fixed factor and
// clipped to [0, 1] so the shared min_score cutoff applies. Ordering is
// deterministic: score descending, then insertion rank ascending.
func fuseRRF(vec, bm25 []rankedEntry, k int) []fusedCandidate {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(vec) == 0 && len(bm25) == 0 {
		return []fusedCandidate{}
	}

	byID := make(map[string]*fusedCandidate, len(vec)+len(bm25))
	get := func(id string, row int) *fusedCandidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &fusedCandidate{ChunkID: id, Row: row}
		byID[id] = c
		return c
	}

	for rank, e := range vec {
		c := get(e.ChunkID, e.Row)
		c.VecScore = e.Score
		c.VecRank = rank + 1
		c.RRFScore += 1.0 / float64(k+rank+1)
	}
	for rank, e := range bm25 {
		c := get(e.ChunkID, e.Row)
		c.BM25Score = e.Score
		c.BM25Rank = rank + 1
		c.RRFScore += 1.0 / float64(k+rank+1)
	}

	out := make([]fusedCandidate, 0, len(byID))
	for _, c := range byID {
		c.RRFScore = clip01(c.RRFScore * rrfScaleFactor)
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		return out[i].Row < out[j].Row
	})
	return out
}

// clip01 clamps v to [0, 1].
func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
