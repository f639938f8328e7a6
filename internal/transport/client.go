package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lifesync/lifesync/internal/record"
)

// ErrBatchTooLarge is returned by Push for more than MaxBatch records.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Code, e.Body)
}

// Client performs batch sync requests against the API base address.
type Client struct {
	base     string
	identity Identity
	http     *http.Client
}

// NewClient creates a batch client. If httpClient is nil a client with a
// 30 second timeout is used.
func NewClient(apiBase string, identity Identity, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:     strings.TrimRight(apiBase, "/"),
		identity: identity,
		http:     httpClient,
	}
}

// Push sends a batch and returns any records the server wants merged back.
func (c *Client) Push(ctx context.Context, items []record.SyncItem) ([]record.SyncItem, error) {
	if len(items) > MaxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(items), MaxBatch)
	}

	body, err := json.Marshal(PushRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	var resp PushResponse
	if err := c.do(ctx, "push", http.MethodPost, "/sync", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Initial pulls the full authoritative state and the device list.
func (c *Client) Initial(ctx context.Context) (*InitialResponse, error) {
	var resp InitialResponse
	if err := c.do(ctx, "initial sync", http.MethodGet, "/sync/initial", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set(HeaderUserID, c.identity.UserID)
	req.Header.Set(HeaderDeviceID, c.identity.DeviceID)
	req.Header.Set(HeaderPlatform, string(c.identity.Platform))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
