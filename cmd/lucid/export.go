package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lucid/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the store's chunks and counter state as newline-delimited JSON",
	Long: `export writes the counter_state record first, then one JSON object
per chunk (including soft-deleted ones), to stdout or --out.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write to this file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Store.Path, cfg.Embedding.Dim)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", exportOut, err)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()
	enc := json.NewEncoder(w)

	counter, err := s.CounterState()
	if err != nil {
		return fmt.Errorf("reading counter state: %w", err)
	}
	if err := enc.Encode(counter); err != nil {
		return fmt.Errorf("writing counter state: %w", err)
	}

	chunks, err := s.AllChunks()
	if err != nil {
		return fmt.Errorf("reading chunks: %w", err)
	}
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("writing chunk: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "exported %d chunks\n", len(chunks))
	return nil
}
