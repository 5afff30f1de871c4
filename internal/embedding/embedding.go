// Package embedding defines the interface for text embedding backends used by
// the retrievers to place utterances and standard commands in one vector space.
package embedding

import "context"

// Embedder turns text into fixed-size vectors.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every returned vector.
	Dimensions() int

	// ModelName identifies the model, e.g. for logs and the health endpoint.
	ModelName() string
}
