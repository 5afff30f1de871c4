// Package tagger defines the interface for sequence-tagging backends.
//
// A tagger splits an utterance into tokens and labels each token with a BIO
// tag over the slot types DEVICE_TYPE, DEVICE_ID, LOCATION, ACTION and
// PARAMETER. homenlu ships with two backends: Lexicon (offline gazetteer)
// and Remote (an HTTP tagging service fronting a fine-tuned model).
package tagger

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when there is nothing to tag.
var ErrEmptyText = errors.New("tagger: empty text")

// Result is one tagged utterance. Tokens and Tags are parallel slices;
// backends are expected to keep them aligned but callers must not assume it.
type Result struct {
	Tokens []string `json:"tokens"`
	Tags   []string `json:"tags"`
}

// Tagger is the interface for BIO sequence tagging.
type Tagger interface {
	// Name returns the backend identifier (e.g., "lexicon", "remote").
	Name() string

	// Tag labels every token of text.
	Tag(ctx context.Context, text string) (*Result, error)

	// Close releases any resources held by the tagger.
	Close() error
}
