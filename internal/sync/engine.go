// Package sync orchestrates propagation between the local store, the remote
// replica and the peer relay channel. Delivery is at-least-once and fully
// asynchronous; the caller's mutations never block on the network.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
)

const (
	defaultBatchSize    = 100
	defaultPullLimit    = 500
	defaultPushInterval = 15 * time.Second
	defaultPullInterval = time.Minute

	backoffBase = time.Second
	backoffMax  = 5 * time.Minute
)

// Engine drives the outbox push loop, the cursor pull loop and the relay
// receiver. Construct one per device with its injected dependencies; there is
// no process-wide instance.
type Engine struct {
	store    *db.DB
	client   ReplicaClient
	relay    PeerRelay // optional
	deviceID string

	batchSize    int
	pullLimit    int
	pushInterval time.Duration
	pullInterval time.Duration

	mu           sync.Mutex
	failures     int
	lastError    string
	nextAttempt  time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRelay attaches the peer relay side channel.
func WithRelay(r PeerRelay) Option {
	return func(e *Engine) { e.relay = r }
}

// WithIntervals overrides the background loop cadence (tests).
func WithIntervals(push, pull time.Duration) Option {
	return func(e *Engine) {
		e.pushInterval = push
		e.pullInterval = pull
	}
}

// WithBatchSize overrides the outbox drain batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// NewEngine creates a sync engine for one device.
func NewEngine(store *db.DB, client ReplicaClient, deviceID string, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		client:       client,
		deviceID:     deviceID,
		batchSize:    defaultBatchSize,
		pullLimit:    defaultPullLimit,
		pushInterval: defaultPushInterval,
		pullInterval: defaultPullInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the background loops until ctx is cancelled. In-flight work is
// abandoned on cancellation, never rolled back: outbox items stay queued and
// are retried on the next wake.
func (e *Engine) Run(ctx context.Context) {
	pushTicker := time.NewTicker(e.pushInterval)
	defer pushTicker.Stop()
	pullTicker := time.NewTicker(e.pullInterval)
	defer pullTicker.Stop()

	var relayIn <-chan []byte
	if e.relay != nil {
		relayIn = e.relay.Incoming()
	}

	slog.Info("sync engine started", "device", e.deviceID)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopped", "device", e.deviceID)
			return
		case <-pushTicker.C:
			if err := e.Push(ctx); err != nil {
				slog.Debug("push cycle", "err", err)
			}
		case <-pullTicker.C:
			if err := e.Pull(ctx); err != nil {
				slog.Debug("pull cycle", "err", err)
			}
		case payload, ok := <-relayIn:
			if !ok {
				relayIn = nil
				continue
			}
			e.applyRelayPayload(payload)
		}
	}
}

// SyncOnce performs one push and one pull cycle, for the manual sync command.
func (e *Engine) SyncOnce(ctx context.Context) error {
	if err := e.Push(ctx); err != nil {
		return err
	}
	return e.Pull(ctx)
}

// Push drains outbox batches and delivers them to the replica. Transient
// failures requeue everything with backoff; validation rejections drop the
// poisoned item after logging.
func (e *Engine) Push(ctx context.Context) error {
	if e.inBackoff() {
		return nil
	}
	if disabled, err := e.syncDisabled(); err != nil || disabled {
		return err
	}

	for {
		items, err := e.store.DrainOutbox(e.batchSize)
		if err != nil {
			return fmt.Errorf("drain outbox: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		delivered, err := e.pushBatch(ctx, items)
		if err != nil {
			return err
		}
		if !delivered || len(items) < e.batchSize {
			return nil
		}
	}
}

// pushBatch builds and delivers one batch. Returns false when the batch was
// consumed without delivery (nothing sendable).
func (e *Engine) pushBatch(ctx context.Context, items []models.OutboxItem) (bool, error) {
	req := &PushRequest{DeviceID: e.deviceID}
	sent := make(map[int64]models.OutboxItem)
	changes := make(map[int64]*ChangePayload)

	for _, item := range items {
		change, err := e.buildChange(item)
		if err != nil {
			// Cannot construct a valid payload: retrying is pointless.
			slog.Warn("dropping unsendable outbox item", "item", item.ID,
				"record", item.RecordID, "err", err)
			if dropErr := e.store.DropOutbox(item, err.Error()); dropErr != nil {
				return false, dropErr
			}
			continue
		}
		if change == nil {
			// Record vanished (purged tombstone); nothing to propagate.
			if ackErr := e.store.AckOutbox(item.ID); ackErr != nil {
				return false, ackErr
			}
			continue
		}
		e.markUploading(item)
		req.Items = append(req.Items, PushItem{Ref: item.ID, Change: *change})
		sent[item.ID] = item
		changes[item.ID] = change
	}

	if len(req.Items) == 0 {
		return false, nil
	}

	resp, err := e.client.Push(ctx, req)
	if err != nil {
		// Transient: network unreachable, replica down. Requeue everything.
		cause := err.Error()
		for _, item := range sent {
			if reqErr := e.store.RequeueOutbox(item, cause); reqErr != nil {
				return false, reqErr
			}
		}
		e.recordFailure(cause)
		return false, fmt.Errorf("push batch: %w", err)
	}

	for _, result := range resp.Results {
		item, ok := sent[result.Ref]
		if !ok {
			slog.Warn("push ack for unknown ref", "ref", result.Ref)
			continue
		}
		if result.Accepted {
			if err := e.store.AckOutbox(item.ID); err != nil {
				return false, err
			}
			e.markSynced(item)
			e.announce(changes[item.ID])
		} else {
			// Validation rejection: the payload can never succeed. Drop the
			// item, leave the record pending for manual resolution.
			slog.Warn("push rejected", "record", item.RecordID, "reason", result.Reason)
			if err := e.store.DropOutbox(item, result.Reason); err != nil {
				return false, err
			}
		}
	}

	e.recordSuccess()
	if err := e.store.TouchSyncTime(); err != nil {
		slog.Debug("touch sync time", "err", err)
	}
	return true, nil
}

// buildChange loads the current record state for an outbox item. Coalesced
// items always ship the latest state, never a stale snapshot. A nil change
// with nil error means the record no longer exists.
func (e *Engine) buildChange(item models.OutboxItem) (*ChangePayload, error) {
	switch item.RecordType {
	case models.RecordSession:
		s, err := e.store.GetSession(item.RecordID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, nil
		}
		return BuildSessionChange(s, e.deviceID)
	case models.RecordBaseline:
		b, err := e.store.GetBaseline(models.Bucket(item.RecordID))
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, nil
		}
		return BuildBaselineChange(b, e.deviceID)
	default:
		return nil, fmt.Errorf("unknown record type %q", item.RecordType)
	}
}

func (e *Engine) markUploading(item models.OutboxItem) {
	var err error
	switch item.RecordType {
	case models.RecordSession:
		err = e.store.MarkSessionUploading(item.RecordID)
	case models.RecordBaseline:
		err = e.store.MarkBaselineUploading(item.RecordID)
	}
	if err != nil {
		slog.Debug("mark uploading", "record", item.RecordID, "err", err)
	}
}

func (e *Engine) markSynced(item models.OutboxItem) {
	var err error
	switch item.RecordType {
	case models.RecordSession:
		err = e.store.MarkSessionSynced(item.RecordID)
	case models.RecordBaseline:
		err = e.store.MarkBaselineSynced(item.RecordID)
	}
	if err != nil {
		slog.Debug("mark synced", "record", item.RecordID, "err", err)
	}
}

// Pull fetches remote changes since the cursor and applies them through
// ApplyRemoteChange, advancing the cursor after each applied batch.
func (e *Engine) Pull(ctx context.Context) error {
	if e.inBackoff() {
		return nil
	}
	cursor, err := e.store.GetSyncCursor()
	if err != nil {
		return err
	}
	if cursor == nil || cursor.SyncDisabled {
		return nil
	}

	after := cursor.LastPulledSeq
	for {
		resp, err := e.client.Pull(ctx, after, e.pullLimit, e.deviceID)
		if err != nil {
			e.recordFailure(err.Error())
			return fmt.Errorf("pull changes: %w", err)
		}

		for i := range resp.Changes {
			change := &resp.Changes[i]
			if _, err := ApplyRemoteChange(e.store, change); err != nil {
				// A malformed remote change is logged and skipped; the cursor
				// still advances so one poisoned record cannot wedge the feed.
				slog.Warn("apply remote change", "seq", change.Seq, "err", err)
			}
		}

		if resp.LastSeq > after {
			after = resp.LastSeq
			if err := e.store.UpdatePulledSeq(after); err != nil {
				return err
			}
		}
		if !resp.HasMore {
			break
		}
	}

	e.recordSuccess()
	return nil
}

// announce publishes a delivered session change over the peer relay so
// nearby devices pick it up without waiting on their pull interval.
// Best-effort: failure is silent and the outbox remains the correctness
// backstop.
func (e *Engine) announce(change *ChangePayload) {
	if e.relay == nil || change == nil || change.RecordType != string(models.RecordSession) {
		return
	}
	payload, err := json.Marshal(change)
	if err != nil {
		slog.Debug("relay announce", "id", change.ID, "err", err)
		return
	}
	e.relay.Publish(payload)
}

// applyRelayPayload funnels a relay receipt through the identical apply path
// the pull loop uses.
func (e *Engine) applyRelayPayload(payload []byte) {
	var change ChangePayload
	if err := json.Unmarshal(payload, &change); err != nil {
		slog.Debug("relay payload decode", "err", err)
		return
	}
	if change.DeviceID == e.deviceID {
		return // our own announcement echoed back
	}
	if _, err := ApplyRemoteChange(e.store, &change); err != nil {
		slog.Debug("relay apply", "id", change.ID, "err", err)
	}
}

// Status returns a snapshot for the non-fatal sync indicator.
func (e *Engine) Status() (Status, error) {
	pending, err := e.store.CountPendingOutbox()
	if err != nil {
		return Status{}, err
	}
	st := Status{Pending: pending}
	if cursor, err := e.store.GetSyncCursor(); err == nil && cursor != nil {
		st.LastSyncAt = cursor.LastSyncAt
	}
	e.mu.Lock()
	st.ConsecutiveFailures = e.failures
	st.LastError = e.lastError
	e.mu.Unlock()
	return st, nil
}

func (e *Engine) syncDisabled() (bool, error) {
	cursor, err := e.store.GetSyncCursor()
	if err != nil {
		return false, err
	}
	return cursor == nil || cursor.SyncDisabled, nil
}

// --- retry backoff ---

func (e *Engine) inBackoff() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Now().Before(e.nextAttempt)
}

// recordFailure schedules the next attempt with exponential backoff capped
// at backoffMax. Items stay failed until a successful connectivity window.
func (e *Engine) recordFailure(cause string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastError = cause

	delay := backoffBase << (e.failures - 1)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	e.nextAttempt = time.Now().Add(delay)
	slog.Debug("sync backoff", "failures", e.failures, "delay", delay)
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.lastError = ""
	e.nextAttempt = time.Time{}
}
