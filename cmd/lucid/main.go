// Command lucid is the Lucid memory engine's CLI: a REPL-style local test
// harness (serve), the export/import JSON round trip, and an ad-hoc
// semantic query tool against a store file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lucid/internal/config"
	"lucid/internal/logging"
)

var (
	configPath string
	storePath  string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lucid",
	Short: "Lucid - an attention-driven conversational memory engine",
	Long: `Lucid maintains a model's working context over an unbounded
conversation: it scores token importance from streamed attention,
prunes low-value material to respect a context budget, persistently
indexes everything said with semantic embeddings, and resurrects past
material relevant to the current turn.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if storePath != "" {
			loaded.Store.Path = storePath
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		if err := logging.Initialize(dataDir(loaded.Store.Path), logging.Config{
			DebugMode:  loaded.Logging.DebugMode,
			Categories: loaded.Logging.Categories,
			Level:      loaded.Logging.Level,
			JSONFormat: loaded.Logging.JSONFormat,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func dataDir(storePath string) string {
	if storePath == "" || storePath == ":memory:" {
		return "."
	}
	return filepath.Dir(storePath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Override the configured store path")

	rootCmd.AddCommand(serveCmd, exportCmd, importCmd, queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
