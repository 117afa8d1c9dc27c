package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "heatsync",
	Short: "Local-first heated workout session tracker",
	Long: `heatsync - Records heated workout sessions locally, deduplicates workout
observations from companion devices and third-party apps, and keeps a remote
replica in sync without ever blocking on the network.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the heatsync version",
	GroupID: "system",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	cobra.OnInitialize(initBaseDir)
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "insight", Title: "Insight Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.PersistentFlags().StringVar(&baseDir, "data-dir", "", "base directory for the local store (default: home)")
}

// initBaseDir resolves the directory holding the local store. The session
// database is per-user, not per-project.
func initBaseDir() {
	if baseDir != "" {
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = home
}

// getBaseDir returns the base directory for the local store
func getBaseDir() string {
	return baseDir
}
