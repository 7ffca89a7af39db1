package main

import (
	"github.com/spf13/cobra"

	"github.com/anfivewer/diffbelt-sub000/internal/database"
)

var (
	putGID          string
	putPID          string
	putIfNotPresent bool
	putTombstone    bool
)

var putCmd = &cobra.Command{
	Use:   "put <collection> <key> [value]",
	Short: "Put a single key/value (no value, or --tombstone, writes a delete marker)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := []byte(nil)
		if len(args) == 3 && !putTombstone {
			value = []byte(args[2])
		}
		req := database.PutRequest{
			Collection: args[0],
			GID:        bytesOrNil(putGID),
			PID:        bytesOrNil(putPID),
			Items: []database.PutItem{{
				CK:           []byte(args[1]),
				Value:        value,
				IfNotPresent: putIfNotPresent,
			}},
		}
		result, err := db.Put(cmd.Context(), req)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var (
	getGID string
	getPID string
)

var getCmd = &cobra.Command{
	Use:   "get <collection> <key>",
	Short: "Point get a key's value as of a generation (defaults to current)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := db.Get(args[0], []byte(args[1]), bytesOrNil(getGID), bytesOrNil(getPID))
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var (
	keysAroundGID   string
	keysAroundPID   string
	keysAroundLimit int
)

var getKeysAroundCmd = &cobra.Command{
	Use:   "keys-around <collection> <key>",
	Short: "List the nearest live keys on each side of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := db.GetKeysAround(args[0], []byte(args[1]), bytesOrNil(keysAroundGID), bytesOrNil(keysAroundPID), keysAroundLimit)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func init() {
	putCmd.Flags().StringVar(&putGID, "gid", "", "generation id to write into (required for manual/phantom writes)")
	putCmd.Flags().StringVar(&putPID, "pid", "", "phantom id (marks this write as a phantom write)")
	putCmd.Flags().BoolVar(&putIfNotPresent, "if-not-present", false, "skip the write if the key already has a live value")
	putCmd.Flags().BoolVar(&putTombstone, "tombstone", false, "write a tombstone regardless of a positional value argument")

	getCmd.Flags().StringVar(&getGID, "gid", "", "generation to read as of (default: current)")
	getCmd.Flags().StringVar(&getPID, "pid", "", "phantom id to read under")

	getKeysAroundCmd.Flags().StringVar(&keysAroundGID, "gid", "", "generation to read as of (default: current)")
	getKeysAroundCmd.Flags().StringVar(&keysAroundPID, "pid", "", "phantom id to read under")
	getKeysAroundCmd.Flags().IntVar(&keysAroundLimit, "limit", 10, "keys to return on each side")
}
