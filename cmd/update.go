package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
	"github.com/ember/heatsync/internal/output"
)

var (
	updateNotes     string
	updateNarrative string
	updateEffort    string
	updateType      string
	updateTemp      int
)

var updateCmd = &cobra.Command{
	Use:     "update [session-id]",
	Short:   "Update fields on an existing session",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		existing, err := database.GetSession(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if existing == nil || existing.Deleted() {
			err := fmt.Errorf("session %s not found", args[0])
			output.Error("%v", err)
			return err
		}

		patch := models.Session{ID: existing.ID, Source: existing.Source}
		changed := false
		if cmd.Flags().Changed("notes") {
			patch.Notes = updateNotes
			changed = true
		}
		if cmd.Flags().Changed("narrative") {
			patch.Narrative = updateNarrative
			changed = true
		}
		if cmd.Flags().Changed("type") {
			patch.SessionType = updateType
			changed = true
		}
		if cmd.Flags().Changed("temp") {
			patch.RoomTemp = &updateTemp
			changed = true
		}
		if cmd.Flags().Changed("effort") {
			e := models.EffortRating(updateEffort)
			if !models.IsValidEffortRating(e) {
				err := fmt.Errorf("invalid effort rating %q", updateEffort)
				output.Error("%v", err)
				return err
			}
			patch.EffortRating = e
			changed = true
		}
		if !changed {
			output.Warning("nothing to update")
			return nil
		}

		saved, err := database.UpsertSession(&patch)
		if err != nil {
			output.Error("failed to update %s: %v", args[0], err)
			return err
		}
		fmt.Printf("UPDATED %s\n", saved.ID)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateNotes, "notes", "", "replace notes")
	updateCmd.Flags().StringVar(&updateNarrative, "narrative", "", "replace narrative")
	updateCmd.Flags().StringVar(&updateEffort, "effort", "", "effort rating: easy, moderate, hard, max")
	updateCmd.Flags().StringVar(&updateType, "type", "", "session type")
	updateCmd.Flags().IntVar(&updateTemp, "temp", 0, "room temperature in °F")

	rootCmd.AddCommand(updateCmd)
}
