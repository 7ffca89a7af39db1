package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anfivewer/diffbelt-sub000/internal/database"
)

var startGenerationAbortOutdated bool

var startGenerationCmd = &cobra.Command{
	Use:   "start-generation <collection> <gid>",
	Short: "Open gid as a manual collection's next generation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.StartGeneration(cmd.Context(), args[0], []byte(args[1]), startGenerationAbortOutdated); err != nil {
			return err
		}
		printResult(map[string]any{"started": args[1]})
		return nil
	},
}

var commitUpdateReaders []string

var commitGenerationCmd = &cobra.Command{
	Use:   "commit-generation <collection> <gid>",
	Short: "Commit a manual collection's open next generation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := parseReaderUpdates(commitUpdateReaders)
		if err != nil {
			return err
		}
		if err := db.CommitGeneration(cmd.Context(), args[0], []byte(args[1]), updates); err != nil {
			return err
		}
		printResult(map[string]any{"committed": args[1]})
		return nil
	},
}

var abortGenerationCmd = &cobra.Command{
	Use:   "abort-generation <collection> <gid>",
	Short: "Discard a manual collection's open next generation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.AbortGeneration(cmd.Context(), args[0], []byte(args[1])); err != nil {
			return err
		}
		printResult(map[string]any{"aborted": args[1]})
		return nil
	},
}

// parseReaderUpdates parses "name[:target]=gid" triples, the bundled
// reader repositioning a commit_generation call can carry alongside its
// commit (spec.md §4.6 op 3's update_readers).
func parseReaderUpdates(raw []string) ([]database.ReaderUpdate, error) {
	updates := make([]database.ReaderUpdate, 0, len(raw))
	for _, entry := range raw {
		nameTarget, gid, ok := splitOnce(entry, '=')
		if !ok {
			return nil, fmt.Errorf("--update-reader %q: want name[:target]=gid", entry)
		}
		name, target, _ := splitOnce(nameTarget, ':')
		updates = append(updates, database.ReaderUpdate{Name: name, Target: target, GID: []byte(gid)})
	}
	return updates, nil
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func init() {
	startGenerationCmd.Flags().BoolVar(&startGenerationAbortOutdated, "abort-outdated", false,
		"discard whatever a stale, uncommitted next generation already accumulated")
	commitGenerationCmd.Flags().StringSliceVar(&commitUpdateReaders, "update-reader", nil,
		"reposition a reader alongside this commit, as name[:target]=gid (repeatable)")
}
