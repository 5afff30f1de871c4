package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nadzzz/homenlu/internal/retrieval"
	"github.com/nadzzz/homenlu/internal/retrieval/pgstore"
)

var kbFile string

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the standard-command knowledge base",
}

var kbIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed the JSONL knowledge base into PostgreSQL (pgvector)",
	Long: `Reads newline-delimited {"text", "predefined_nlu_output"} records,
embeds each text with the configured embedder and upserts them into the
pgvector table. Requires pgvector.dsn.`,
	Args: cobra.NoArgs,
	RunE: runKBIndex,
}

func init() {
	kbIndexCmd.Flags().StringVarP(&kbFile, "file", "f", "", "knowledge base JSONL (default: nlu.knowledge_base)")
	kbCmd.AddCommand(kbIndexCmd)
	rootCmd.AddCommand(kbCmd)
}

func runKBIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := kbFile
	if path == "" {
		path = cfg.NLU.KnowledgeBase
	}

	records, err := retrieval.LoadKnowledgeBaseFile(path)
	if err != nil {
		return err
	}

	emb, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	store, err := pgstore.Open(cfg.PGVector, emb)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	start := time.Now()
	n, err := store.Upsert(ctx, records)
	if err != nil {
		return fmt.Errorf("indexing knowledge base: %w", err)
	}
	slog.Info("knowledge base indexed", "records", n, "model", emb.ModelName(), "duration", time.Since(start))
	cmd.Printf("indexed %d standard commands from %s\n", n, path)
	return nil
}
