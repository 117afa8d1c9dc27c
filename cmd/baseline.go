package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/baseline"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
)

var baselineCmd = &cobra.Command{
	Use:     "baseline",
	Short:   "Show per-bucket heart rate baselines",
	GroupID: "insight",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		baselines, err := database.ListBaselines()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if len(baselines) == 0 {
			output.Info("no baselines yet; record a few sessions first")
			return nil
		}
		for i := range baselines {
			b := &baselines[i]
			fmt.Printf("%-10s %.1f bpm over %d session(s)\n", b.Bucket, b.AvgHR, b.SessionCount)
		}
		return nil
	},
}

var baselineRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute all baselines from stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := baseline.New(database).RebuildBaselines(); err != nil {
			output.Error("rebuild failed: %v", err)
			return err
		}
		output.Success("Baselines rebuilt")
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:     "compare [session-id]",
	Short:   "Compare a session's heart rate against its bucket baseline",
	GroupID: "insight",
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

		cmp, err := baseline.New(database).CompareToBaseline(s)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(output.ComparisonLine(&cmp))
		return nil
	},
}

func init() {
	baselineCmd.AddCommand(baselineRebuildCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(compareCmd)
}
