// Package syncclient is the HTTP client for the heatsync replica server.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	gosync "github.com/ember/heatsync/internal/sync"
)

// Sentinel errors for common failure classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnreachable  = errors.New("replica unreachable")
)

// Client talks to the heatsync replica. It implements sync.ReplicaClient.
type Client struct {
	http *resty.Client
}

// New creates a client for the replica at baseURL. token may be empty for
// the link flow, where no credential exists yet.
func New(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// --- Link types (mirrors internal/api, independently defined) ---

// LinkRequest is the body for POST /v1/devices/link.
type LinkRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	PairCode   string `json:"pair_code"`
}

// LinkResponse carries the bearer token issued for a linked device.
type LinkResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response from GET /v1/sync/status.
type StatusResponse struct {
	RecordCount int64  `json:"record_count"`
	LastSeq     int64  `json:"last_seq"`
	LastChange  string `json:"last_change,omitempty"`
}

// apiError is the standard error body from the replica.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Health verifies replica reachability without auth.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/healthz")
	if err := classify(res, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Link exchanges a pairing code for a device token.
func (c *Client) Link(ctx context.Context, req *LinkRequest) (*LinkResponse, error) {
	var out LinkResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/v1/devices/link")
	if err := classify(res, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Push sends a batch of local changes to the replica.
func (c *Client) Push(ctx context.Context, req *gosync.PushRequest) (*gosync.PushResponse, error) {
	var out gosync.PushResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/v1/sync/push")
	if err := classify(res, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pull fetches changes after afterSeq, excluding ones this device pushed.
func (c *Client) Pull(ctx context.Context, afterSeq int64, limit int, excludeDevice string) (*gosync.PullResponse, error) {
	var out gosync.PullResponse
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("after_seq", strconv.FormatInt(afterSeq, 10)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		SetError(&apiError{})
	if excludeDevice != "" {
		req.SetQueryParam("exclude_device", excludeDevice)
	}
	res, err := req.Get("/v1/sync/pull")
	if err := classify(res, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the replica's change-feed summary.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/v1/sync/status")
	if err := classify(res, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// classify maps transport and HTTP failures onto the client's sentinels.
// Transport errors wrap ErrUnreachable so callers can treat them as
// transient; 401/403 wrap ErrUnauthorized and need a fresh link.
func classify(res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if !res.IsError() {
		return nil
	}
	msg := res.Status()
	if apiErr, ok := res.Error().(*apiError); ok && apiErr != nil && apiErr.Code != "" {
		msg = apiErr.Error()
	}
	switch res.StatusCode() {
	case 401, 403:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	default:
		return fmt.Errorf("replica error: %s", msg)
	}
}
