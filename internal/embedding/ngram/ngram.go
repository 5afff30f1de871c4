// Package ngram implements an offline Embedder from hashed character
// unigram and bigram counts.
//
// Short Chinese commands share most of their characters with their standard
// form, so squared L2 distance between count vectors is a usable similarity
// signal without any model. Distances land in the same tens-to-hundreds range
// as the default similarity threshold.
package ngram

import (
	"context"
	"hash/fnv"
	"strconv"
	"unicode"
)

// DefaultDimensions is used when the configured size is not positive.
const DefaultDimensions = 256

// Weight of each n-gram occurrence. Bigrams count more than single
// characters because they carry word identity.
const (
	unigramWeight = 4
	bigramWeight  = 6
)

// Embedder hashes n-grams into a fixed number of buckets.
type Embedder struct {
	dims int
}

// New creates an n-gram embedder with dims buckets.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Embed returns the bucket counts for text. It never fails.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	runes := make([]rune, 0, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		runes = append(runes, unicode.ToLower(r))
	}
	for i, r := range runes {
		vec[e.bucket(string(r))] += unigramWeight
		if i+1 < len(runes) {
			vec[e.bucket(string(runes[i:i+2]))] += bigramWeight
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text in turn.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

// Dimensions returns the number of buckets.
func (e *Embedder) Dimensions() int { return e.dims }

// ModelName returns a stable identifier including the bucket count.
func (e *Embedder) ModelName() string { return "ngram-" + strconv.Itoa(e.dims) }

func (e *Embedder) bucket(gram string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(gram))
	return int(h.Sum32() % uint32(e.dims))
}
