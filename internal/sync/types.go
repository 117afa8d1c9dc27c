package sync

import (
	"context"
	"encoding/json"
	"time"
)

// ChangePayload is one record on the wire, in either direction. Every payload
// carries the record id and updated_at; an upsert additionally carries the
// full field set, a tombstone carries deleted_at instead.
type ChangePayload struct {
	Seq        int64           `json:"seq,omitempty"` // server-assigned, pull only
	RecordType string          `json:"record_type"`   // "session" | "baseline"
	ID         string          `json:"id"`            // session id, or bucket name
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
}

// Tombstone reports whether the payload propagates a deletion.
func (c *ChangePayload) Tombstone() bool {
	return c.DeletedAt != nil
}

// PushRequest is a batch of local mutations offered to the replica.
type PushRequest struct {
	DeviceID string     `json:"device_id"`
	Items    []PushItem `json:"items"`
}

// PushItem pairs a payload with the caller's outbox reference so acks can be
// matched back.
type PushItem struct {
	Ref    int64         `json:"ref"`
	Change ChangePayload `json:"change"`
}

// PushResponse carries per-item outcomes and the server clock.
type PushResponse struct {
	Results    []PushResult `json:"results"`
	ServerTime time.Time    `json:"server_time"`
}

// PushResult is the replica's verdict on a single pushed item. A rejection is
// a validation failure: retrying the identical payload cannot succeed.
type PushResult struct {
	Ref      int64  `json:"ref"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Seq      int64  `json:"seq,omitempty"`
}

// PullResponse is a change-set since the requested cursor.
type PullResponse struct {
	Changes []ChangePayload `json:"changes"`
	LastSeq int64           `json:"last_seq"`
	HasMore bool            `json:"has_more"`
}

// ReplicaClient is the transport to the remote replica. Implementations must
// be safe for redelivery: pushing the same item twice has one effect.
type ReplicaClient interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, afterSeq int64, limit int, excludeDevice string) (*PullResponse, error)
}

// PeerRelay is the best-effort low-latency side channel between the
// companion and hub devices. Publish never blocks and may silently drop;
// Incoming delivers raw payloads that funnel into the same apply path the
// pull loop uses.
type PeerRelay interface {
	Publish(payload []byte)
	Incoming() <-chan []byte
}

// Status is a point-in-time snapshot of the engine, for non-fatal sync
// indicators only.
type Status struct {
	Pending             int64      `json:"pending"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
}
