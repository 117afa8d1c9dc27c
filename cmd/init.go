package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/config"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local session store",
	Long:    `Creates the .heatsync directory and SQLite database under the data directory.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".heatsync")); err == nil {
			output.Warning(".heatsync/ already exists")
			return nil
		}

		database, err := db.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		deviceID, err := config.DeviceID()
		if err != nil {
			output.Error("failed to resolve device id: %v", err)
			return err
		}
		if err := database.InitSyncCursor(deviceID); err != nil {
			output.Error("failed to initialize sync cursor: %v", err)
			return err
		}

		fmt.Println("INITIALIZED .heatsync/")
		fmt.Printf("Device: %s\n", deviceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
