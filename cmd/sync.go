package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ember/heatsync/internal/config"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/output"
	"github.com/ember/heatsync/internal/relay"
	gosync "github.com/ember/heatsync/internal/sync"
	"github.com/ember/heatsync/internal/syncclient"
)

// buildEngine wires a sync engine from the stored credentials.
func buildEngine(database *db.DB) (*gosync.Engine, error) {
	if !config.IsLinked() {
		return nil, fmt.Errorf("not linked to a replica; run 'heatsync link <pair-code>' first")
	}
	deviceID, err := config.DeviceID()
	if err != nil {
		return nil, err
	}

	client := syncclient.New(config.ServerURL(), config.Token())
	return gosync.NewEngine(database, client, deviceID,
		gosync.WithIntervals(config.PushInterval(), config.PullInterval()),
	), nil
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Push pending changes and pull remote ones once",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		engine, err := buildEngine(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := engine.SyncOnce(ctx); err != nil {
			output.Error("sync failed: %v", err)
			return err
		}

		st, err := engine.Status()
		if err == nil && st.Pending > 0 {
			output.Warning("%d change(s) still pending", st.Pending)
		} else {
			output.Success("Synced")
		}
		return nil
	},
}

var agentCmd = &cobra.Command{
	Use:     "agent",
	Short:   "Run the background sync agent",
	Long: `Runs the push/pull loops and, when a relay broker is configured, listens
for low-latency peer announcements. Stops on SIGINT/SIGTERM.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if !config.IsLinked() {
			err := fmt.Errorf("not linked to a replica; run 'heatsync link <pair-code>' first")
			output.Error("%v", err)
			return err
		}
		deviceID, err := config.DeviceID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		client := syncclient.New(config.ServerURL(), config.Token())
		opts := []gosync.Option{
			gosync.WithIntervals(config.PushInterval(), config.PullInterval()),
		}

		if rc := config.RelaySettings(); rc.Broker != "" {
			channel, err := relay.Dial(relay.Config{
				Broker:   rc.Broker,
				ClientID: "heatsync-" + deviceID,
				Username: rc.Username,
				Password: rc.Password,
				Topic:    rc.Topic,
			})
			if err != nil {
				// The relay is an accelerator only; run without it.
				output.Warning("relay unavailable: %v", err)
			} else {
				defer channel.Close()
				opts = append(opts, gosync.WithRelay(channel))
			}
		}

		engine := gosync.NewEngine(database, client, deviceID, opts...)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Println("sync agent running, ctrl-c to stop")
		engine.Run(ctx)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show sync state and pending changes",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		cursor, err := database.GetSyncCursor()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		pending, err := database.CountPendingOutbox()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if !config.IsLinked() {
			output.Info("replica: not linked")
		} else {
			output.Info("replica: %s", config.ServerURL())
		}
		if cursor != nil {
			output.Info("device:  %s", cursor.DeviceID)
			output.Info("cursor:  %d", cursor.LastPulledSeq)
			if cursor.LastSyncAt != nil {
				output.Info("last sync: %s", cursor.LastSyncAt.Local().Format(time.RFC1123))
			}
			if cursor.SyncDisabled {
				output.Warning("sync is disabled")
			}
		}
		if pending > 0 {
			output.Warning("pending changes: %d", pending)
		} else {
			output.Success("everything synced")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(statusCmd)
}
