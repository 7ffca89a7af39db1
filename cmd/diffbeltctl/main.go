// Command diffbeltctl is the operator CLI for the storage engine: a thin
// cobra-based driver over internal/database, grounded on
// steveyegge-beads's cmd/bd/*.go command tree (one cobra.Command per
// operation, a persistent --json flag switching between human and machine
// output, a root PersistentPreRun that opens the shared resource every
// subcommand needs). There is no HTTP/JSON wire protocol here; this
// drives the database operations directly instead, for manual operation
// and for the end-to-end tests in main_test.go, which run the command tree
// in-process.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anfivewer/diffbelt-sub000/internal/config"
	"github.com/anfivewer/diffbelt-sub000/internal/database"
	"github.com/anfivewer/diffbelt-sub000/internal/gc"
)

var (
	dataDir    string
	configFile string
	jsonOutput bool

	db *database.Database
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "diffbeltctl",
	Short: "diffbeltctl - operator CLI for the generation-based key-value engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		tunables := config.Defaults
		if configFile != "" {
			loader, err := config.Load(configFile, nil)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			tunables = loader.Current()
		}

		opts := database.Options{
			MaxCursorsPerCollection: tunables.MaxCursorsPerCollection,
			AutoCommitDelay:         tunables.AutoCommitDelay,
			GCLimits:                gc.Limits{RecordsLimit: tunables.GCRecordsLimit, LookupsLimit: tunables.GCLookupsLimit},
			DiffChangesLimit:        tunables.DiffChangesLimit,
			PackLimit:               tunables.DiffPackLimit,
			RecordsToViewLimit:      tunables.DiffPackRecordsLimit,
		}
		opened, err := database.Open(dataDir, opts)
		if err != nil {
			return fmt.Errorf("opening database at %q: %w", dataDir, err)
		}
		db = opened
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the diffbeltctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("diffbeltctl (dev build)")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./diffbelt-data", "storage directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "tunables toml file (optional)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(createCollectionCmd, deleteCollectionCmd, listCollectionsCmd)
	rootCmd.AddCommand(getCmd, putCmd, getKeysAroundCmd)
	rootCmd.AddCommand(queryCmd, readQueryCursorCmd, abortQueryCursorCmd)
	rootCmd.AddCommand(diffCmd, readDiffCursorCmd, abortDiffCursorCmd)
	rootCmd.AddCommand(startGenerationCmd, commitGenerationCmd, abortGenerationCmd)
	rootCmd.AddCommand(createReaderCmd, updateReaderCmd, deleteReaderCmd, listReadersCmd)
	rootCmd.AddCommand(startPhantomCmd, abortPhantomCmd)
}

// printResult prints v as JSON when --json is set, otherwise with %+v, the
// same outputJSON/plain-text split steveyegge-beads's cmd/bd/*.go uses.
func printResult(v any) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Printf("%+v\n", v)
}
