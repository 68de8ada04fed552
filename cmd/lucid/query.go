package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lucid/internal/embedding"
	"lucid/internal/index"
	"lucid/internal/store"
)

var queryTopK int

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run an ad-hoc semantic query against a store file",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 10, "Number of results to return")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := store.Open(cfg.Store.Path, cfg.Embedding.Dim)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("constructing embedding engine: %w", err)
	}
	idx := index.New(s, embedder)

	results, err := idx.Query(ctx, args[0], queryTopK)
	if err != nil {
		return fmt.Errorf("querying: %w", err)
	}

	for i, r := range results {
		fmt.Printf("%2d. [%.4f] (%s) %s\n", i+1, r.Similarity, r.Chunk.Key, r.Chunk.Text())
	}
	return nil
}
