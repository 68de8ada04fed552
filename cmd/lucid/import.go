package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lucid/internal/store"
)

var importIn string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the store's contents with a previously exported JSON sequence",
	Long: `import reads the newline-delimited JSON sequence produced by export
(a leading counter_state record followed by one chunk per line), clears
the store, and restores it exactly as exported.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importIn, "in", "", "Read from this file instead of stdin")
}

func runImport(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Store.Path, cfg.Embedding.Dim)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	in := os.Stdin
	if importIn != "" {
		f, err := os.Open(importIn)
		if err != nil {
			return fmt.Errorf("opening %s: %w", importIn, err)
		}
		defer f.Close()
		in = f
	}

	dec := json.NewDecoder(bufio.NewReader(in))

	var counter store.CounterExport
	if err := dec.Decode(&counter); err != nil {
		return fmt.Errorf("reading counter state: %w", err)
	}

	if err := s.Clear(); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}

	count := 0
	for {
		var c store.ChunkExport
		if err := dec.Decode(&c); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading chunk: %w", err)
		}
		if err := s.ImportChunk(&c); err != nil {
			return fmt.Errorf("importing chunk: %w", err)
		}
		count++
	}

	if err := s.SetCounterState(counter); err != nil {
		return fmt.Errorf("restoring counter state: %w", err)
	}

	fmt.Fprintf(os.Stderr, "imported %d chunks\n", count)
	return nil
}
