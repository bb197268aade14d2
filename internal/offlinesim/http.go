package offlinesim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/zikir/internal/domain/types"
)

// HTTPClient covers the endpoints the simulation needs besides counting.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil, http.StatusOK)
}

// CreateRoom creates a public room owned by userID.
func (c *HTTPClient) CreateRoom(ctx context.Context, userID, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms", userID,
		types.CreateRoomRequest{RoomID: roomID}, nil, http.StatusCreated)
}

// Leaderboard reads a room as userID.
func (c *HTTPClient) Leaderboard(ctx context.Context, userID, roomID string) (types.Snapshot, error) {
	var snap types.Snapshot
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/leaderboard", userID, nil, &snap, http.StatusOK)
	return snap, err
}

func (c *HTTPClient) do(ctx context.Context, method, path, userID string, body, out any, want int) error {
	var r io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
