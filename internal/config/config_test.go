package config

import (
	"testing"
	"time"
)

func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	// Env overrides would shadow the file-backed values under test.
	for _, k := range []string{
		"HEATSYNC_SERVER_URL", "HEATSYNC_TOKEN", "HEATSYNC_SLACK_MINUTES",
		"HEATSYNC_PUSH_INTERVAL", "HEATSYNC_PULL_INTERVAL",
		"HEATSYNC_RELAY_BROKER", "HEATSYNC_RELAY_TOPIC",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingConfigIsEmpty(t *testing.T) {
	isolateHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.URL != "" || cfg.SlackMinutes != nil {
		t.Errorf("missing config should load empty, got %+v", cfg)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	isolateHome(t)

	slack := 10
	in := &Config{
		Sync:         SyncSettings{URL: "https://replica.example", Enabled: true, PushInterval: "30s"},
		Relay:        RelayConfig{Broker: "tcp://broker:1883", Topic: "heatsync/changes"},
		SlackMinutes: &slack,
	}
	if err := Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if got := ServerURL(); got != "https://replica.example" {
		t.Errorf("ServerURL = %q, want the configured url", got)
	}
	if got := SlackMinutes(); got != 10 {
		t.Errorf("SlackMinutes = %d, want 10", got)
	}
	if got := PushInterval(); got != 30*time.Second {
		t.Errorf("PushInterval = %v, want 30s", got)
	}
	if got := PullInterval(); got != time.Minute {
		t.Errorf("PullInterval = %v, want the 1m default", got)
	}
	if got := RelaySettings(); got.Broker != "tcp://broker:1883" || got.Topic != "heatsync/changes" {
		t.Errorf("RelaySettings = %+v, want the configured broker/topic", got)
	}
}

func TestDefaults(t *testing.T) {
	isolateHome(t)

	if got := ServerURL(); got != "http://localhost:8080" {
		t.Errorf("ServerURL = %q, want default", got)
	}
	if got := SlackMinutes(); got != 5 {
		t.Errorf("SlackMinutes = %d, want 5", got)
	}
	if IsLinked() {
		t.Error("fresh home should not report linked")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("HEATSYNC_SERVER_URL", "http://override:9999")
	t.Setenv("HEATSYNC_SLACK_MINUTES", "0")
	t.Setenv("HEATSYNC_PULL_INTERVAL", "5s")

	if got := ServerURL(); got != "http://override:9999" {
		t.Errorf("ServerURL = %q, want the env override", got)
	}
	if got := SlackMinutes(); got != 0 {
		t.Errorf("SlackMinutes = %d, want the env override 0", got)
	}
	if got := PullInterval(); got != 5*time.Second {
		t.Errorf("PullInterval = %v, want 5s", got)
	}
}

func TestDeviceIDPersists(t *testing.T) {
	isolateHome(t)

	first, err := DeviceID()
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if first == "" {
		t.Fatal("expected a generated device id")
	}
	again, err := DeviceID()
	if err != nil {
		t.Fatalf("DeviceID second call: %v", err)
	}
	if again != first {
		t.Errorf("device id changed between calls: %q then %q", first, again)
	}
}

func TestAuthLifecycleKeepsDeviceID(t *testing.T) {
	isolateHome(t)

	deviceID, err := DeviceID()
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}

	if err := SaveAuth(&AuthCredentials{
		Token:     "tok-123",
		DeviceID:  deviceID,
		ServerURL: "https://replica.example",
	}); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}
	if !IsLinked() {
		t.Error("should report linked after SaveAuth")
	}
	if got := Token(); got != "tok-123" {
		t.Errorf("Token = %q, want tok-123", got)
	}

	// Unlinking clears the credential but the identity survives, so a later
	// relink is attributed to the same device.
	if err := SaveAuth(&AuthCredentials{DeviceID: deviceID}); err != nil {
		t.Fatalf("SaveAuth unlink: %v", err)
	}
	if IsLinked() {
		t.Error("should not report linked after clearing the token")
	}
	again, err := DeviceID()
	if err != nil {
		t.Fatalf("DeviceID after unlink: %v", err)
	}
	if again != deviceID {
		t.Errorf("device id changed across unlink: %q then %q", deviceID, again)
	}
}
