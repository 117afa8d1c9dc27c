package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ember/heatsync/internal/sync"
)

const maxPushItems = 500

// handleSyncPush applies a batch of device changes and acks each one.
// Replayed items are acked without effect, so devices can redeliver freely.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	var req sync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if len(req.Items) > maxPushItems {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "too many items in batch")
		return
	}

	deviceID := deviceFromContext(r.Context())
	resp := sync.PushResponse{ServerTime: time.Now().UTC()}
	for i := range req.Items {
		item := &req.Items[i]
		// The authenticated device is the writer of record, whatever the
		// payload claims.
		item.Change.DeviceID = deviceID

		result, err := s.store.ApplyChange(&item.Change)
		if err != nil {
			logFor(r.Context()).Error("apply change", "record", item.Change.ID, "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to apply changes")
			return
		}
		result.Ref = item.Ref
		if !result.Accepted {
			logFor(r.Context()).Warn("rejected change", "record", item.Change.ID, "reason", result.Reason)
		}
		resp.Results = append(resp.Results, result)
	}

	if err := s.store.TouchDevice(deviceID); err != nil {
		logFor(r.Context()).Debug("touch device", "err", err)
	}
	writeJSON(w, http.StatusOK, &resp)
}

// handleSyncPull returns changes after the caller's cursor, excluding the
// caller's own writes.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	afterSeq := int64(0)
	if v := q.Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid after_seq")
			return
		}
		afterSeq = n
	}

	limit := 500
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	resp, err := s.store.ChangesSince(afterSeq, limit, q.Get("exclude_device"))
	if err != nil {
		logFor(r.Context()).Error("changes since", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load changes")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSyncStatus summarizes the replica's change feed.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	count, lastSeq, lastChange, err := s.store.Stats()
	if err != nil {
		logFor(r.Context()).Error("record stats", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load status")
		return
	}
	out := map[string]any{
		"record_count": count,
		"last_seq":     lastSeq,
	}
	if lastChange != nil {
		out["last_change"] = lastChange.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}
