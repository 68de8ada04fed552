package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lucid/internal/brightness"
	"lucid/internal/embedding"
	"lucid/internal/generator"
	"lucid/internal/index"
	"lucid/internal/reflection"
	"lucid/internal/resurrection"
	"lucid/internal/session"
	"lucid/internal/store"
	"lucid/internal/workingset"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a REPL-style window against a fake generator for local testing",
	Long: `serve opens one window over the configured store and reads lines
from stdin as user turns, printing a one-line summary of each turn (the
assistant turn id and the resurrected and pruned sentence counts).
It exercises the full per-turn protocol without a live model backend.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := store.Open(cfg.Store.Path, cfg.Embedding.Dim)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	embedder := embedding.NewFake(cfg.Embedding.Dim)
	idx := index.New(s, embedder)
	scorer := brightness.New(cfg.Brightness)
	ws := workingset.New(scorer, nil)
	planner := resurrection.New(*cfg, idx, ws)
	gen := generator.NewFake()

	ctrl := session.New(*cfg, idx, embedder, gen, ws, planner, nil)

	trigger := reflection.New(cfg.Reflection, ctrl.FireReflection)
	ctrl.SetTrigger(trigger)
	trigger.Start()
	defer trigger.Stop()

	fmt.Printf("lucid serve: window %s, type a line and press enter (Ctrl+D to quit)\n", ctrl.WindowID())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		result, err := ctrl.RunTurn(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}
		if result.GenerationError != nil {
			fmt.Fprintf(os.Stderr, "generation error: %v\n", result.GenerationError)
		}
		fmt.Printf("assistant turn %s: resurrected=%d pruned=%d\n", result.AssistantTurn, len(result.Resurrected), len(result.Pruned))
	}
	return scanner.Err()
}
