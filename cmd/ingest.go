package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/baseline"
	"github.com/ember/heatsync/internal/config"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
	"github.com/ember/heatsync/internal/output"
	"github.com/ember/heatsync/internal/resolver"
	"github.com/ember/heatsync/internal/timeparse"
)

var (
	ingestExternalID string
	ingestStart      string
	ingestEnd        string
	ingestSource     string
	ingestAvgHR      float64
	ingestMaxHR      float64
	ingestCalories   float64
	ingestTemp       int
)

var ingestCmd = &cobra.Command{
	Use:     "ingest",
	Short:   "Ingest a workout observation from an external source",
	Long: `Feeds one finished-workout observation through the source resolver. The
resolver either creates a canonical session, folds the observation into an
existing overlapping one, or dismisses it as a duplicate. Re-ingesting the
same external id is a no-op.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestExternalID == "" {
			err := fmt.Errorf("--external-id is required")
			output.Error("%v", err)
			return err
		}

		start, err := timeparse.Parse(ingestStart)
		if err != nil {
			output.Error("invalid --start: %v", err)
			return err
		}
		end, err := timeparse.Parse(ingestEnd)
		if err != nil {
			output.Error("invalid --end: %v", err)
			return err
		}
		if !end.After(start) {
			err := fmt.Errorf("end time must be after start time")
			output.Error("%v", err)
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		obs := models.Observation{
			ExternalID: ingestExternalID,
			StartTime:  start,
			EndTime:    end,
			Source:     parseSourceFlag(ingestSource),
			AvgHR:      ingestAvgHR,
			MaxHR:      ingestMaxHR,
			Calories:   ingestCalories,
			ObservedAt: time.Now(),
		}
		if cmd.Flags().Changed("temp") {
			obs.RoomTemp = &ingestTemp
		}

		engine := baseline.New(database)
		res := resolver.New(database, engine)
		res.SetSlack(time.Duration(config.SlackMinutes()) * time.Minute)

		session, err := res.Ingest(obs)
		if err != nil {
			output.Error("failed to ingest observation: %v", err)
			return err
		}

		fmt.Printf("INGESTED %s -> %s\n", obs.ExternalID, session.ID)
		return nil
	},
}

// parseSourceFlag maps a source name to its trust rank.
func parseSourceFlag(name string) models.Source {
	switch name {
	case "companion":
		return models.SourceCompanion
	case "platform":
		return models.SourcePlatform
	case "vendor":
		return models.SourceVendor
	case "aggregator":
		return models.SourceAggregator
	default:
		return models.SourceUnknown
	}
}

func init() {
	ingestCmd.Flags().StringVar(&ingestExternalID, "external-id", "", "external workout id (required)")
	ingestCmd.Flags().StringVar(&ingestStart, "start", "", "start time (required)")
	ingestCmd.Flags().StringVar(&ingestEnd, "end", "", "end time (required)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "unknown", "source: companion, platform, vendor, aggregator, unknown")
	ingestCmd.Flags().Float64Var(&ingestAvgHR, "avg-hr", 0, "average heart rate in bpm")
	ingestCmd.Flags().Float64Var(&ingestMaxHR, "max-hr", 0, "max heart rate in bpm")
	ingestCmd.Flags().Float64Var(&ingestCalories, "calories", 0, "calories burned")
	ingestCmd.Flags().IntVar(&ingestTemp, "temp", 0, "room temperature in °F")

	rootCmd.AddCommand(ingestCmd)
}
