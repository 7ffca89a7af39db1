package main

import (
	"github.com/spf13/cobra"
)

var startPhantomCmd = &cobra.Command{
	Use:   "start-phantom <collection>",
	Short: "Issue a fresh phantom id for a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := db.StartPhantom(args[0])
		if err != nil {
			return err
		}
		printResult(map[string]any{"pid": string(pid)})
		return nil
	},
}

var abortPhantomCmd = &cobra.Command{
	Use:   "abort-phantom <collection> <pid>",
	Short: "Discard every record a phantom id wrote across the collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.AbortPhantom(args[0], []byte(args[1])); err != nil {
			return err
		}
		printResult(map[string]any{"aborted": args[1]})
		return nil
	},
}
