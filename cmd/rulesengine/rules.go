package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ledgerrules/rete/internal/ruleio"
	"github.com/ledgerrules/rete/internal/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rules loaded into the engine",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Load a .rules.json or .rules.toml file and add every rule it contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := ruleio.LoadFile(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()
		added := 0
		for _, r := range rules {
			if err := eng.AddRule(ctx, r); err != nil {
				return fmt.Errorf("rulesengine: rule %q: %w", r.Name, err)
			}
			added++
		}
		fmt.Printf("added %d rule(s) from %s\n", added, args[0])
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a rule by its numeric id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("rulesengine: invalid rule id %q: %w", args[0], err)
		}
		if err := eng.RemoveRule(types.RuleID(id)); err != nil {
			return err
		}
		fmt.Printf("removed rule %d\n", id)
		return nil
	},
}

var rulesWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory for rule-file changes and reload matching rules on write",
	Long: `watch uses fsnotify to reload every .rules.json/.rules.toml file in dir
each time it is written, debouncing rapid successive writes to the
same file into a single reload.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesWatch,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
	rulesCmd.AddCommand(rulesWatchCmd)
}

func isRuleFile(name string) bool {
	return strings.HasSuffix(name, ruleio.ExtJSON) || strings.HasSuffix(name, ruleio.ExtTOML)
}

// loadedRules tracks, per source file, the rule ids most recently loaded
// from it, so a reload can remove the previous generation before adding
// the new one instead of accumulating duplicates.
var loadedRules = map[string][]types.RuleID{}

func reloadRuleFile(path string) {
	ctx, cancel := commandContext()
	defer cancel()

	for _, id := range loadedRules[path] {
		_ = eng.RemoveRule(id)
	}
	delete(loadedRules, path)

	rules, err := ruleio.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rulesengine: reload %s: %v\n", path, err)
		return
	}
	ids := make([]types.RuleID, 0, len(rules))
	for _, r := range rules {
		if err := eng.AddRule(ctx, r); err != nil {
			fmt.Fprintf(os.Stderr, "rulesengine: reload %s: rule %q: %v\n", path, r.Name, err)
			continue
		}
		ids = append(ids, r.ID)
	}
	loadedRules[path] = ids
	fmt.Printf("reloaded %d rule(s) from %s\n", len(ids), path)
}

func runRulesWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("rulesengine: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rulesengine: creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("rulesengine: watching %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("rulesengine: reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isRuleFile(entry.Name()) {
			reloadRuleFile(filepath.Join(dir, entry.Name()))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	debounceTimers := map[string]*time.Timer{}
	const debounceDelay = 300 * time.Millisecond
	fired := make(chan string)

	fmt.Fprintf(os.Stderr, "watching %s for rule changes... (Ctrl+C to stop)\n", dir)

	for {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nstopped watching.")
			return nil
		case path := <-fired:
			reloadRuleFile(path)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isRuleFile(event.Name) {
				continue
			}
			if t, ok := debounceTimers[event.Name]; ok {
				t.Stop()
			}
			path := event.Name
			debounceTimers[path] = time.AfterFunc(debounceDelay, func() { fired <- path })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
