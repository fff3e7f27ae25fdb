package search

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Reranker re-orders retrieval candidates with a deeper relevance signal.
// Opt-in only: empirical evidence shows reranking degrades refusal,
// injection-resistance, and ambiguity handling by narrowing the diversity
// of the context handed to the model.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error)
}

// LexicalReranker scores candidates by weighted term overlap with the
// query. It is the cross-encoder stand-in for fully offline setups.
type LexicalReranker struct{}

// Verify interface implementation at compile time.
var _ Reranker = (*LexicalReranker)(nil)

var rerankTokenRegex = regexp.MustCompile(`[\pL\pN]+`)

// NewLexicalReranker creates a lexical overlap reranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank re-sorts candidates by term overlap, falling back to the fused
// score and then insertion rank for ties.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	queryTerms := termSet(query)
	if len(queryTerms) == 0 {
		return candidates, nil
	}

	type scored struct {
		overlap float64
		sc      ScoredChunk
	}
	rescored := make([]scored, len(candidates))
	for i, c := range candidates {
		rescored[i] = scored{overlap: overlapScore(queryTerms, c.Chunk.Text), sc: c}
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		if rescored[i].overlap != rescored[j].overlap {
			return rescored[i].overlap > rescored[j].overlap
		}
		if rescored[i].sc.Score != rescored[j].sc.Score {
			return rescored[i].sc.Score > rescored[j].sc.Score
		}
		return rescored[i].sc.Row < rescored[j].sc.Row
	})

	out := make([]ScoredChunk, len(rescored))
	for i, s := range rescored {
		out[i] = s.sc
	}
	return out, nil
}

// termSet extracts the lowercase term set of a text.
func termSet(text string) map[string]struct{} {
	terms := rerankTokenRegex.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// overlapScore is the fraction of query terms present in the candidate.
func overlapScore(queryTerms map[string]struct{}, text string) float64 {
	candidateTerms := termSet(text)
	var hits int
	for t := range queryTerms {
		if _, ok := candidateTerms[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}
