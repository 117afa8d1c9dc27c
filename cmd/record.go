package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/baseline"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
	"github.com/ember/heatsync/internal/output"
	"github.com/ember/heatsync/internal/timeparse"
)

var (
	recordStart    string
	recordEnd      string
	recordDuration int
	recordTemp     int
	recordType     string
	recordNotes    string
	recordEffort   string
	recordAvgHR    float64
	recordMaxHR    float64
	recordCalories float64
)

var recordCmd = &cobra.Command{
	Use:     "record",
	Short:   "Record a workout session",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		s := models.Session{
			SessionType:  recordType,
			Notes:        recordNotes,
			EffortRating: models.EffortNone,
			Source:       models.SourceCompanion,
			AvgHR:        recordAvgHR,
			MaxHR:        recordMaxHR,
			Calories:     recordCalories,
		}

		s.StartTime = time.Now()
		if recordStart != "" {
			t, err := timeparse.Parse(recordStart)
			if err != nil {
				output.Error("invalid --start: %v", err)
				return err
			}
			s.StartTime = t
		}
		if recordEnd != "" {
			t, err := timeparse.Parse(recordEnd)
			if err != nil {
				output.Error("invalid --end: %v", err)
				return err
			}
			if !t.After(s.StartTime) {
				err := fmt.Errorf("end time must be after start time")
				output.Error("%v", err)
				return err
			}
			s.EndTime = &t
		}
		if cmd.Flags().Changed("duration") {
			if recordDuration <= 0 {
				err := fmt.Errorf("duration must be positive")
				output.Error("%v", err)
				return err
			}
			secs := recordDuration * 60
			s.DurationOverride = &secs
		}
		if cmd.Flags().Changed("temp") {
			s.RoomTemp = &recordTemp
		}
		if recordEffort != "" {
			e := models.EffortRating(recordEffort)
			if !models.IsValidEffortRating(e) {
				err := fmt.Errorf("invalid effort rating %q", recordEffort)
				output.Error("%v", err)
				return err
			}
			s.EffortRating = e
		}

		saved, err := database.UpsertSession(&s)
		if err != nil {
			output.Error("failed to record session: %v", err)
			return err
		}

		engine := baseline.New(database)
		if err := engine.RecordSession(saved); err != nil {
			output.Warning("baseline update failed: %v", err)
		}

		fmt.Printf("RECORDED %s\n", saved.ID)
		if saved.AvgHR > 0 {
			if cmp, err := engine.CompareToBaseline(saved); err == nil {
				fmt.Println(output.ComparisonLine(&cmp))
			}
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordStart, "start", "", "start time ('yesterday 18:00', '-90m', RFC3339; default now)")
	recordCmd.Flags().StringVar(&recordEnd, "end", "", "end time")
	recordCmd.Flags().IntVar(&recordDuration, "duration", 0, "duration in minutes (wins over start/end span)")
	recordCmd.Flags().IntVar(&recordTemp, "temp", 0, "room temperature in °F")
	recordCmd.Flags().StringVar(&recordType, "type", "", "session type (e.g. hot26, vinyasa)")
	recordCmd.Flags().StringVar(&recordNotes, "notes", "", "free-form notes")
	recordCmd.Flags().StringVar(&recordEffort, "effort", "", "effort rating: easy, moderate, hard, max")
	recordCmd.Flags().Float64Var(&recordAvgHR, "avg-hr", 0, "average heart rate in bpm")
	recordCmd.Flags().Float64Var(&recordMaxHR, "max-hr", 0, "max heart rate in bpm")
	recordCmd.Flags().Float64Var(&recordCalories, "calories", 0, "calories burned")

	rootCmd.AddCommand(recordCmd)
}
