// Command rulesengine is the CLI front end for the rules engine,
// structured the way cmd/bd lays out its root command: a package-level
// rootCmd wired up in main(), with persistent flags resolved once in
// PersistentPreRun and every leaf subcommand registering itself from its
// own file's init().
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerrules/rete/internal/action"
	"github.com/ledgerrules/rete/internal/calculator"
	"github.com/ledgerrules/rete/internal/config"
	"github.com/ledgerrules/rete/internal/engine"
	"github.com/ledgerrules/rete/internal/factstore"
)

var (
	configPath string
	jsonOutput bool

	store factstore.Store
	eng   *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "rulesengine",
	Short: "Forward-chaining rules engine CLI",
	Long: `rulesengine loads rule sets, feeds facts through a RETE network, and
reports the rule firings and action outcomes that resulted.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(configPath); err != nil {
			return fmt.Errorf("rulesengine: loading config: %w", err)
		}
		cfg := config.Load()

		store = factstore.NewHashMap()
		calc := calculator.NewEngine(calculator.NewRegistry(), cfg.CompilationCacheSize, cfg.ResultCacheSize)
		eng = engine.New(store, calc, action.NoopNotifier{})
		eng.ApplyConfig(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a rulesengine config file (YAML/JSON/TOML, viper-loaded)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of text")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
