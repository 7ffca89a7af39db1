package main

import (
	"github.com/spf13/cobra"
)

var (
	queryGID string
	queryPID string
)

var queryCmd = &cobra.Command{
	Use:   "query <collection>",
	Short: "Open a query cursor over a collection's live keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := db.Query(args[0], bytesOrNil(queryGID), bytesOrNil(queryPID))
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var readQueryCursorCmd = &cobra.Command{
	Use:   "read-query-cursor <collection> <cursor-id>",
	Short: "Fetch the next page of a query cursor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := db.ReadQueryCursor(args[0], args[1])
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var abortQueryCursorCmd = &cobra.Command{
	Use:   "abort-query-cursor <collection> <cursor-id>",
	Short: "Discard a query cursor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.AbortQueryCursor(args[0], args[1]); err != nil {
			return err
		}
		printResult(map[string]any{"aborted": args[1]})
		return nil
	},
}

var diffFromGID string

var diffCmd = &cobra.Command{
	Use:   "diff <collection> <to-gid>",
	Short: "Open a diff cursor between --from (exclusive) and to-gid (inclusive)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := db.Diff(args[0], bytesOrNil(diffFromGID), []byte(args[1]))
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var readDiffCursorCmd = &cobra.Command{
	Use:   "read-diff-cursor <collection> <cursor-id>",
	Short: "Fetch the next page of a diff cursor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := db.ReadDiffCursor(args[0], args[1])
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var abortDiffCursorCmd = &cobra.Command{
	Use:   "abort-diff-cursor <collection> <cursor-id>",
	Short: "Discard a diff cursor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.AbortDiffCursor(args[0], args[1]); err != nil {
			return err
		}
		printResult(map[string]any{"aborted": args[1]})
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryGID, "gid", "", "generation to read as of (default: current)")
	queryCmd.Flags().StringVar(&queryPID, "pid", "", "phantom id to read under")
	diffCmd.Flags().StringVar(&diffFromGID, "from", "", "exclusive lower generation bound (default: zero)")
}
