package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createCollectionManual bool

var createCollectionCmd = &cobra.Command{
	Use:   "create-collection <name>",
	Short: "Create a new collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.CreateCollection(args[0], createCollectionManual); err != nil {
			return err
		}
		printResult(map[string]any{"created": args[0], "manual": createCollectionManual})
		return nil
	},
}

var deleteCollectionCmd = &cobra.Command{
	Use:   "delete-collection <name>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.DeleteCollection(args[0]); err != nil {
			return err
		}
		printResult(map[string]any{"deleted": args[0]})
		return nil
	},
}

var listCollectionsCmd = &cobra.Command{
	Use:   "list-collections",
	Short: "List every collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := db.ListCollections()
		if err != nil {
			return err
		}
		if jsonOutput {
			printResult(names)
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func init() {
	createCollectionCmd.Flags().BoolVar(&createCollectionManual, "manual", false, "create a manual-generation collection")
}
