package main

import (
	"github.com/spf13/cobra"
)

var createReaderTarget string

var createReaderCmd = &cobra.Command{
	Use:   "create-reader <collection> <name> <gid>",
	Short: "Register a new named reader owned by collection",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.CreateReader(cmd.Context(), args[0], args[1], createReaderTarget, []byte(args[2])); err != nil {
			return err
		}
		printResult(map[string]any{"created": args[1]})
		return nil
	},
}

var updateReaderCmd = &cobra.Command{
	Use:   "update-reader <collection> <name> <gid>",
	Short: "Advance an existing reader's generation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.UpdateReader(cmd.Context(), args[0], args[1], []byte(args[2])); err != nil {
			return err
		}
		printResult(map[string]any{"updated": args[1]})
		return nil
	},
}

var deleteReaderCmd = &cobra.Command{
	Use:   "delete-reader <collection> <name>",
	Short: "Remove a reader",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.DeleteReader(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		printResult(map[string]any{"deleted": args[1]})
		return nil
	},
}

var listReadersCmd = &cobra.Command{
	Use:   "list-readers <collection>",
	Short: "List every reader a collection owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		printResult(db.ListReaders(args[0]))
		return nil
	},
}

func init() {
	createReaderCmd.Flags().StringVar(&createReaderTarget, "target", "", "collection the reader tracks (default: its owner)")
}
