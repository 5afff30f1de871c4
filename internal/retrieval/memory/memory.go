// Package memory implements the Retriever interface with an in-process
// brute-force index over an embedded knowledge base.
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/nadzzz/homenlu/internal/embedding"
	"github.com/nadzzz/homenlu/internal/retrieval"
)

// Index holds one vector per standard command. It is read-only after New
// and safe for concurrent searches.
type Index struct {
	embedder embedding.Embedder
	records  []retrieval.KnowledgeRecord
	vectors  [][]float32
}

// New embeds every record with e.
func New(ctx context.Context, e embedding.Embedder, records []retrieval.KnowledgeRecord) (*Index, error) {
	vectors, err := e.EmbedBatch(ctx, retrieval.Texts(records))
	if err != nil {
		return nil, fmt.Errorf("embedding knowledge base: %w", err)
	}
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("embedding knowledge base: got %d vectors for %d records", len(vectors), len(records))
	}
	return &Index{embedder: e, records: records, vectors: vectors}, nil
}

// Name returns the backend identifier.
func (x *Index) Name() string { return "memory" }

// Len is the number of indexed records.
func (x *Index) Len() int { return len(x.records) }

// Search ranks every record by squared L2 distance to the query embedding
// and returns the closest topK, nearest first.
func (x *Index) Search(ctx context.Context, query string, topK int) ([]retrieval.Match, error) {
	if topK <= 0 || len(x.records) == 0 {
		return nil, nil
	}
	q, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", retrieval.ErrUnavailable, err)
	}

	matches := make([]retrieval.Match, 0, len(x.records))
	for i, v := range x.vectors {
		if len(v) != len(q) {
			continue
		}
		matches = append(matches, retrieval.Match{
			CommandText: x.records[i].Text,
			Score:       SquaredL2(q, v),
			Record:      x.records[i],
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Close is a no-op.
func (x *Index) Close() error { return nil }

// SquaredL2 is the squared Euclidean distance between equal-length vectors.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
