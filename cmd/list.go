package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, newest first",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		sessions, err := database.ListActiveSessions()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if listJSON {
			return output.JSON(sessions)
		}
		if len(sessions) == 0 {
			output.Info("no sessions recorded yet")
			return nil
		}
		for i := range sessions {
			fmt.Println(output.SessionLine(&sessions[i]))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show [session-id]",
	Short:   "Show one session in full",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		s, err := database.GetSession(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if s == nil {
			err := fmt.Errorf("session %s not found", args[0])
			output.Error("%v", err)
			return err
		}

		if listJSON {
			return output.JSON(s)
		}
		fmt.Print(output.SessionDetail(s))
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	showCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}
