package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
)

var purgeCmd = &cobra.Command{
	Use:     "purge",
	Short:   "Remove tombstones the replica has confirmed",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		n, err := database.PurgeSyncedTombstones()
		if err != nil {
			output.Error("purge failed: %v", err)
			return err
		}
		fmt.Printf("PURGED %d tombstone(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
