package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/embedding"
	"github.com/nadzzz/homenlu/internal/embedding/ngram"
	"github.com/nadzzz/homenlu/internal/embedding/ollama"
	"github.com/nadzzz/homenlu/internal/embedding/openai"
	"github.com/nadzzz/homenlu/internal/engine"
	"github.com/nadzzz/homenlu/internal/health"
	"github.com/nadzzz/homenlu/internal/retrieval"
	"github.com/nadzzz/homenlu/internal/retrieval/memory"
	"github.com/nadzzz/homenlu/internal/retrieval/pgstore"
	"github.com/nadzzz/homenlu/internal/tagger"
	"github.com/nadzzz/homenlu/internal/tagger/lexicon"
	"github.com/nadzzz/homenlu/internal/tagger/remote"
)

// newEmbedder builds the configured embedding backend.
func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Backend {
	case "", "ngram":
		return ngram.New(cfg.Ngram.Dimensions), nil
	case "ollama":
		return ollama.New(cfg.Ollama), nil
	case "openai":
		e, err := openai.New(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// buildEngines constructs every tagger and retriever the configuration
// allows and freezes them into a registry. Retrievers that cannot start are
// logged and left out; requests then fail with retrieval_unavailable
// instead of the daemon refusing to start.
func buildEngines(ctx context.Context, cfg *config.Config) (*engine.Registry, health.Engines, error) {
	info := health.Engines{}

	taggers := []tagger.Tagger{lexicon.New(cfg.NLU.Lexicon)}
	if cfg.NLU.Remote.Endpoint != "" {
		taggers = append(taggers, remote.New(cfg.NLU.Remote))
	}

	var retrievers []retrieval.Retriever
	emb, err := newEmbedder(cfg.Embedding)
	if err != nil {
		slog.Warn("embedder unavailable, retrieval disabled", "backend", cfg.Embedding.Backend, "error", err)
	} else {
		slog.Info("using embedder", "model", emb.ModelName(), "dimensions", emb.Dimensions())

		if idx, n, err := openMemory(ctx, cfg.NLU.KnowledgeBase, emb); err != nil {
			slog.Warn("memory retriever unavailable", "path", cfg.NLU.KnowledgeBase, "error", err)
		} else {
			retrievers = append(retrievers, idx)
			info.KnowledgeBase = n
		}

		if cfg.PGVector.DSN != "" {
			store, err := pgstore.Open(cfg.PGVector, emb)
			if err != nil {
				slog.Warn("pgvector retriever unavailable", "error", err)
			} else {
				retrievers = append(retrievers, store)
			}
		}
	}

	reg, err := engine.New(engine.Options{
		Taggers:          taggers,
		Retrievers:       retrievers,
		DefaultTagger:    cfg.NLU.Tagger,
		DefaultRetriever: cfg.NLU.Retriever,
		Threshold:        cfg.NLU.SimilarityThreshold,
		TopK:             cfg.NLU.TopK,
	})
	if err != nil {
		return nil, info, err
	}

	def := reg.Default()
	info.Taggers = reg.TaggerNames()
	info.Retrievers = reg.RetrieverNames()
	info.DefaultTagger = def.TaggerName()
	info.DefaultRetriever = def.RetrieverName()
	return reg, info, nil
}

func openMemory(ctx context.Context, path string, emb embedding.Embedder) (*memory.Index, int, error) {
	if path == "" {
		return nil, 0, errors.New("no knowledge base configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, 0, err
	}
	records, err := retrieval.LoadKnowledgeBaseFile(path)
	if err != nil {
		return nil, 0, err
	}
	idx, err := memory.New(ctx, emb, records)
	if err != nil {
		return nil, 0, err
	}
	return idx, idx.Len(), nil
}
