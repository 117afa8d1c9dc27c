// Package syncharness wires real devices against a real replica API server
// for end-to-end sync tests: each simulated device runs the actual local
// store and sync engine, and talks HTTP to the actual handler stack backed by
// an in-memory record store.
package syncharness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/ember/heatsync/internal/api"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
	gosync "github.com/ember/heatsync/internal/sync"
	"github.com/ember/heatsync/internal/syncclient"
)

const pairCode = "424242"

// storedRecord is one record in the in-memory replica.
type storedRecord struct {
	recordType string
	id         string
	updatedAt  time.Time
	deletedAt  *time.Time
	fields     json.RawMessage
	deviceID   string
	seq        int64
}

// memoryStore implements api.Store with the replica's change-feed semantics:
// monotonically increasing sequence numbers, idempotent last-writer-wins
// apply, tombstone precedence.
type memoryStore struct {
	mu      stdsync.Mutex
	lastSeq int64
	records map[string]*storedRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*storedRecord)}
}

func (m *memoryStore) Ping() error { return nil }

func (m *memoryStore) ApplyChange(change *gosync.ChangePayload) (gosync.PushResult, error) {
	if change.ID == "" {
		return gosync.PushResult{Reason: "id is required"}, nil
	}
	if change.RecordType != string(models.RecordSession) && change.RecordType != string(models.RecordBaseline) {
		return gosync.PushResult{Reason: fmt.Sprintf("unknown record type %q", change.RecordType)}, nil
	}
	if change.UpdatedAt.IsZero() {
		return gosync.PushResult{Reason: "updated_at is required"}, nil
	}
	if !change.Tombstone() && len(change.Fields) == 0 {
		return gosync.PushResult{Reason: "fields are required for an upsert"}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := change.RecordType + "/" + change.ID
	cur, ok := m.records[key]
	if ok {
		// A stored tombstone outlives any upsert, and a stale or duplicate
		// change is acked without effect.
		if cur.deletedAt != nil && !change.Tombstone() {
			return gosync.PushResult{Accepted: true, Seq: cur.seq}, nil
		}
		if !change.UpdatedAt.After(cur.updatedAt) {
			return gosync.PushResult{Accepted: true, Seq: cur.seq}, nil
		}
	}

	m.lastSeq++
	m.records[key] = &storedRecord{
		recordType: change.RecordType,
		id:         change.ID,
		updatedAt:  change.UpdatedAt,
		deletedAt:  change.DeletedAt,
		fields:     change.Fields,
		deviceID:   change.DeviceID,
		seq:        m.lastSeq,
	}
	return gosync.PushResult{Accepted: true, Seq: m.lastSeq}, nil
}

func (m *memoryStore) ChangesSince(afterSeq int64, limit int, excludeDevice string) (*gosync.PullResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*storedRecord
	for _, r := range m.records {
		if r.seq <= afterSeq {
			continue
		}
		if excludeDevice != "" && r.deviceID == excludeDevice {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	resp := &gosync.PullResponse{LastSeq: afterSeq}
	for i, r := range matched {
		if i >= limit {
			resp.HasMore = true
			break
		}
		resp.Changes = append(resp.Changes, gosync.ChangePayload{
			Seq:        r.seq,
			RecordType: r.recordType,
			ID:         r.id,
			UpdatedAt:  r.updatedAt,
			DeletedAt:  r.deletedAt,
			Fields:     r.fields,
			DeviceID:   r.deviceID,
		})
		resp.LastSeq = r.seq
	}
	return resp, nil
}

func (m *memoryStore) Stats() (int64, int64, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, r := range m.records {
		if last == nil || r.updatedAt.After(*last) {
			t := r.updatedAt
			last = &t
		}
	}
	return int64(len(m.records)), m.lastSeq, last, nil
}

func (m *memoryStore) RegisterDevice(string, string) error { return nil }
func (m *memoryStore) TouchDevice(string) error            { return nil }

// Device is one simulated sync participant: a real local store with a real
// engine, linked over HTTP.
type Device struct {
	ID     string
	DB     *db.DB
	Client *syncclient.Client
	Engine *gosync.Engine
}

// Harness runs one replica and any number of devices against it.
type Harness struct {
	t       *testing.T
	Replica *memoryStore
	Devices map[string]*Device
	keys    []string
}

// NewHarness starts a replica server and links one device per name.
func NewHarness(t *testing.T, names ...string) *Harness {
	t.Helper()

	replica := newMemoryStore()
	server, err := api.NewServer(api.Config{
		JWTSecret: []byte("harness-secret"),
		PairCode:  pairCode,
	}, replica)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	h := &Harness{t: t, Replica: replica, Devices: make(map[string]*Device)}
	for _, name := range names {
		deviceID := "dev-" + name

		database, err := db.Initialize(t.TempDir())
		if err != nil {
			t.Fatalf("initialize store for %s: %v", name, err)
		}
		t.Cleanup(func() { database.Close() })
		if err := database.InitSyncCursor(deviceID); err != nil {
			t.Fatalf("init cursor for %s: %v", name, err)
		}

		linkResp, err := syncclient.New(ts.URL, "").Link(context.Background(), &syncclient.LinkRequest{
			DeviceID:   deviceID,
			DeviceName: name,
			PairCode:   pairCode,
		})
		if err != nil {
			t.Fatalf("link %s: %v", name, err)
		}

		client := syncclient.New(ts.URL, linkResp.Token)
		h.Devices[name] = &Device{
			ID:     deviceID,
			DB:     database,
			Client: client,
			Engine: gosync.NewEngine(database, client, deviceID),
		}
		h.keys = append(h.keys, name)
	}
	return h
}

// Device returns a participant by name.
func (h *Harness) Device(name string) *Device {
	h.t.Helper()
	d, ok := h.Devices[name]
	if !ok {
		h.t.Fatalf("unknown device %q", name)
	}
	return d
}

// Sync runs one push+pull cycle for the named device.
func (h *Harness) Sync(name string) {
	h.t.Helper()
	if err := h.Device(name).Engine.SyncOnce(context.Background()); err != nil {
		h.t.Fatalf("sync %s: %v", name, err)
	}
}

// SyncAll runs two full rounds across every device, enough for any single
// burst of mutations to reach every participant.
func (h *Harness) SyncAll() {
	h.t.Helper()
	for round := 0; round < 2; round++ {
		for _, name := range h.keys {
			h.Sync(name)
		}
	}
}

// AssertConverged fails the test when any two devices disagree on session or
// baseline content.
func (h *Harness) AssertConverged() {
	h.t.Helper()
	if len(h.keys) < 2 {
		return
	}

	ref := h.dumpDevice(h.keys[0])
	for _, name := range h.keys[1:] {
		if got := h.dumpDevice(name); got != ref {
			h.t.Fatalf("divergence between %s and %s:\n--- %s ---\n%s\n--- %s ---\n%s",
				h.keys[0], name, h.keys[0], ref, name, got)
		}
	}
}

// dumpDevice renders a device's records in a deterministic, comparable form.
// Sync bookkeeping is excluded; it legitimately differs between the writer
// and the receivers.
func (h *Harness) dumpDevice(name string) string {
	h.t.Helper()
	d := h.Device(name)

	sessions, err := d.DB.ListAllSessions()
	if err != nil {
		h.t.Fatalf("list sessions on %s: %v", name, err)
	}
	var lines []string
	for i := range sessions {
		s := &sessions[i]
		if s.Deleted() {
			// A tombstone's payload is meaningless; only its existence must
			// agree across devices.
			lines = append(lines, fmt.Sprintf("tombstone %s", s.ID))
			continue
		}
		lines = append(lines, fmt.Sprintf("session %s ext=%s start=%d notes=%q hr=%.1f src=%d related=%s",
			s.ID, s.ExternalWorkoutID, s.StartTime.Unix(), s.Notes, s.AvgHR,
			s.Source, strings.Join(s.RelatedIDs, ",")))
	}

	baselines, err := d.DB.ListBaselines()
	if err != nil {
		h.t.Fatalf("list baselines on %s: %v", name, err)
	}
	for i := range baselines {
		b := &baselines[i]
		lines = append(lines, fmt.Sprintf("baseline %s hr=%.3f n=%d", b.Bucket, b.AvgHR, b.SessionCount))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// RecordSession writes a session on the named device, as the CLI would.
func (h *Harness) RecordSession(name string, s *models.Session) *models.Session {
	h.t.Helper()
	saved, err := h.Device(name).DB.UpsertSession(s)
	if err != nil {
		h.t.Fatalf("record session on %s: %v", name, err)
	}
	return saved
}
