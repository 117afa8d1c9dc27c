package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [session-id...]",
	Short:   "Soft-delete one or more sessions",
	Long:    `Marks sessions as deleted. The tombstone propagates to all linked devices; purging happens only after every replica has confirmed it.`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		for _, id := range args {
			if err := database.SoftDeleteSession(id); err != nil {
				output.Error("failed to delete %s: %v", id, err)
				continue
			}
			fmt.Printf("DELETED %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
