package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ember/heatsync/internal/sync"
)

// fakeStore is an in-memory Store capturing what the handlers pass down.
type fakeStore struct {
	pingErr error

	applied      []sync.ChangePayload
	rejectReason string

	pullAfter   int64
	pullLimit   int
	pullExclude string
	pullResp    *sync.PullResponse

	registered []string
	touched    []string
}

func (f *fakeStore) Ping() error { return f.pingErr }

func (f *fakeStore) ApplyChange(change *sync.ChangePayload) (sync.PushResult, error) {
	f.applied = append(f.applied, *change)
	if f.rejectReason != "" {
		return sync.PushResult{Reason: f.rejectReason}, nil
	}
	return sync.PushResult{Accepted: true, Seq: int64(len(f.applied))}, nil
}

func (f *fakeStore) ChangesSince(afterSeq int64, limit int, excludeDevice string) (*sync.PullResponse, error) {
	f.pullAfter = afterSeq
	f.pullLimit = limit
	f.pullExclude = excludeDevice
	if f.pullResp != nil {
		return f.pullResp, nil
	}
	return &sync.PullResponse{LastSeq: afterSeq}, nil
}

func (f *fakeStore) Stats() (int64, int64, *time.Time, error) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return 7, 42, &last, nil
}

func (f *fakeStore) RegisterDevice(deviceID, _ string) error {
	f.registered = append(f.registered, deviceID)
	return nil
}

func (f *fakeStore) TouchDevice(deviceID string) error {
	f.touched = append(f.touched, deviceID)
	return nil
}

func testServer(t *testing.T, store *fakeStore) *Server {
	t.Helper()
	s, err := NewServer(Config{
		JWTSecret: []byte("test-secret"),
		PairCode:  "123456",
	}, store)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestNewServerRequiresSecret(t *testing.T) {
	if _, err := NewServer(Config{PairCode: "123456"}, &fakeStore{}); err == nil {
		t.Fatal("expected error for missing jwt secret")
	}
}

func TestHealth(t *testing.T) {
	store := &fakeStore{}
	s := testServer(t, store)
	h := s.routes()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	store.pingErr = errors.New("down")
	rec = doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d with store down, want 503", rec.Code)
	}
}

func TestLinkIssuesUsableToken(t *testing.T) {
	store := &fakeStore{}
	s := testServer(t, store)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/devices/link", "", map[string]string{
		"device_id":   "dev-1",
		"device_name": "wrist",
		"pair_code":   "123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" || resp.ExpiresAt == "" {
		t.Fatalf("incomplete link response: %+v", resp)
	}
	if len(store.registered) != 1 || store.registered[0] != "dev-1" {
		t.Errorf("registered devices = %v, want [dev-1]", store.registered)
	}

	deviceID, err := s.verifyToken(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if deviceID != "dev-1" {
		t.Errorf("token subject = %q, want dev-1", deviceID)
	}
}

func TestLinkRejectsWrongPairCode(t *testing.T) {
	s := testServer(t, &fakeStore{})
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/devices/link", "", map[string]string{
		"device_id": "dev-1",
		"pair_code": "999999",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if e := decodeAPIError(t, rec); e.Code != ErrCodeUnauthorized {
		t.Errorf("error code = %q, want unauthorized", e.Code)
	}
}

func TestLinkRequiresDeviceID(t *testing.T) {
	s := testServer(t, &fakeStore{})
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/devices/link", "", map[string]string{
		"pair_code": "123456",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func linkedToken(t *testing.T, s *Server, h http.Handler, deviceID string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/devices/link", "", map[string]string{
		"device_id": deviceID,
		"pair_code": "123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("link: status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode link response: %v", err)
	}
	return resp.Token
}

func TestSyncEndpointsRequireAuth(t *testing.T) {
	s := testServer(t, &fakeStore{})
	h := s.routes()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/sync/push"},
		{http.MethodGet, "/v1/sync/pull"},
		{http.MethodGet, "/v1/sync/status"},
	} {
		rec := doJSON(t, h, tc.method, tc.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/sync/status", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestPushStampsAuthenticatedDevice(t *testing.T) {
	store := &fakeStore{}
	s := testServer(t, store)
	h := s.routes()
	token := linkedToken(t, s, h, "dev-1")

	req := sync.PushRequest{
		DeviceID: "dev-1",
		Items: []sync.PushItem{{
			Ref: 11,
			Change: sync.ChangePayload{
				RecordType: "session",
				ID:         "ses-1",
				UpdatedAt:  time.Now().UTC(),
				DeviceID:   "dev-spoofed",
				Fields:     json.RawMessage(`{"start_time":"2025-06-01T18:00:00Z"}`),
			},
		}},
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/sync/push", token, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp sync.PushResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || !resp.Results[0].Accepted || resp.Results[0].Ref != 11 {
		t.Fatalf("results = %+v, want one accepted result with ref 11", resp.Results)
	}

	if len(store.applied) != 1 {
		t.Fatalf("store saw %d changes, want 1", len(store.applied))
	}
	if store.applied[0].DeviceID != "dev-1" {
		t.Errorf("applied device id = %q, want the authenticated dev-1, never the payload's claim", store.applied[0].DeviceID)
	}
	if len(store.touched) != 1 || store.touched[0] != "dev-1" {
		t.Errorf("touched devices = %v, want [dev-1]", store.touched)
	}
}

func TestPushReportsRejections(t *testing.T) {
	store := &fakeStore{rejectReason: "updated_at is required"}
	s := testServer(t, store)
	h := s.routes()
	token := linkedToken(t, s, h, "dev-1")

	req := sync.PushRequest{Items: []sync.PushItem{{
		Ref:    3,
		Change: sync.ChangePayload{RecordType: "session", ID: "ses-bad"},
	}}}
	rec := doJSON(t, h, http.MethodPost, "/v1/sync/push", token, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; rejections are per-item", rec.Code)
	}

	var resp sync.PushResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Accepted {
		t.Fatalf("results = %+v, want one rejection", resp.Results)
	}
	if resp.Results[0].Reason != "updated_at is required" {
		t.Errorf("reason = %q, want the store's diagnostic", resp.Results[0].Reason)
	}
}

func TestPullPassesQueryParams(t *testing.T) {
	store := &fakeStore{}
	s := testServer(t, store)
	h := s.routes()
	token := linkedToken(t, s, h, "dev-1")

	rec := doJSON(t, h, http.MethodGet, "/v1/sync/pull?after_seq=17&limit=50&exclude_device=dev-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if store.pullAfter != 17 || store.pullLimit != 50 || store.pullExclude != "dev-1" {
		t.Errorf("store saw after=%d limit=%d exclude=%q, want 17/50/dev-1",
			store.pullAfter, store.pullLimit, store.pullExclude)
	}
}

func TestPullValidatesParams(t *testing.T) {
	s := testServer(t, &fakeStore{})
	h := s.routes()
	token := linkedToken(t, s, h, "dev-1")

	for _, qs := range []string{"after_seq=abc", "after_seq=-1", "limit=0", "limit=x"} {
		rec := doJSON(t, h, http.MethodGet, "/v1/sync/pull?"+qs, token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", qs, rec.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	s := testServer(t, &fakeStore{})
	h := s.routes()
	token := linkedToken(t, s, h, "dev-1")

	rec := doJSON(t, h, http.MethodGet, "/v1/sync/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RecordCount int64  `json:"record_count"`
		LastSeq     int64  `json:"last_seq"`
		LastChange  string `json:"last_change"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RecordCount != 7 || resp.LastSeq != 42 || resp.LastChange == "" {
		t.Errorf("status body = %+v, want 7 records at seq 42 with a last change", resp)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	store := &fakeStore{}
	s, err := NewServer(Config{
		JWTSecret: []byte("test-secret"),
		PairCode:  "123456",
		TokenTTL:  time.Minute,
	}, store)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	token, _, err := s.issueToken("dev-1", time.Now().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	rec := doJSON(t, s.routes(), http.MethodGet, "/v1/sync/status", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with expired token, want 401", rec.Code)
	}
}
