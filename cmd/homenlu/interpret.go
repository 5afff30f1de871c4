package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nadzzz/homenlu/internal/dispatch"
	"github.com/nadzzz/homenlu/internal/message"
)

var (
	interpretTagger    string
	interpretRetriever string
	interpretThreshold float64
	interpretTopK      int
)

var interpretCmd = &cobra.Command{
	Use:   "interpret [text]",
	Short: "Interpret one utterance and print the result as JSON",
	Long: `Runs the same pipeline as the daemon on a single utterance.
Engine flags override the configured defaults for this call only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInterpret,
}

func init() {
	interpretCmd.Flags().StringVar(&interpretTagger, "tagger", "", "tagger to use (lexicon, remote)")
	interpretCmd.Flags().StringVar(&interpretRetriever, "retriever", "", "retriever to use (memory, pgvector, none)")
	interpretCmd.Flags().Float64Var(&interpretThreshold, "threshold", 0, "similarity threshold override")
	interpretCmd.Flags().IntVar(&interpretTopK, "top-k", 0, "number of retrieval candidates")
	rootCmd.AddCommand(interpretCmd)
}

func runInterpret(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	registry, _, err := buildEngines(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	settings := map[string]any{}
	if interpretTagger != "" {
		settings["tagger"] = interpretTagger
	}
	if interpretRetriever != "" {
		settings["retriever"] = interpretRetriever
	}
	if cmd.Flags().Changed("threshold") {
		settings["similarity_threshold"] = interpretThreshold
	}
	if interpretTopK > 0 {
		settings["top_k"] = interpretTopK
	}

	result, err := dispatch.New(registry).Handle(ctx, &message.Message{
		Source:   "cli",
		Text:     strings.Join(args, " "),
		Settings: settings,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
