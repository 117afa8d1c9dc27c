package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/config"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
	"github.com/ember/heatsync/internal/syncclient"
)

var (
	linkServer string
	linkName   string
)

var linkCmd = &cobra.Command{
	Use:     "link [pair-code]",
	Short:   "Link this device to a replica server",
	GroupID: "sync",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL := linkServer
		if serverURL == "" {
			serverURL = config.ServerURL()
		}

		deviceID, err := config.DeviceID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		client := syncclient.New(serverURL, "")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := client.Link(ctx, &syncclient.LinkRequest{
			DeviceID:   deviceID,
			DeviceName: linkName,
			PairCode:   args[0],
		})
		if err != nil {
			output.Error("link failed: %v", err)
			return err
		}

		if err := config.SaveAuth(&config.AuthCredentials{
			Token:      resp.Token,
			DeviceID:   deviceID,
			DeviceName: linkName,
			ServerURL:  serverURL,
			ExpiresAt:  resp.ExpiresAt,
		}); err != nil {
			output.Error("failed to save credentials: %v", err)
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()
		if err := database.InitSyncCursor(deviceID); err != nil {
			output.Error("failed to initialize sync cursor: %v", err)
			return err
		}

		output.Success("Linked to %s as device %s", serverURL, deviceID)
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:     "unlink",
	Short:   "Remove the stored replica credentials",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadAuth()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if creds == nil || creds.Token == "" {
			output.Info("not linked")
			return nil
		}
		// Keep the device id so a later relink reuses it.
		creds.Token = ""
		creds.ServerURL = ""
		creds.ExpiresAt = ""
		if err := config.SaveAuth(creds); err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println("UNLINKED")
		return nil
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkServer, "server", "", "replica server URL")
	linkCmd.Flags().StringVar(&linkName, "name", "", "device name shown on the replica")

	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}
