package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
)

// ErrServer is a transient server-side failure (5xx or an unreadable reply).
var ErrServer = errors.New("server error")

// Transport reaches the counting endpoints.
type Transport interface {
	Count(ctx context.Context, roomID, userID string) (model.LiveCounter, error)
	CountBulk(ctx context.Context, roomID, userID string, req types.BulkRequest) (model.BulkResult, error)
}

// HTTPTransport speaks the REST contract.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport targets baseURL, e.g. http://localhost:9080. A nil client
// gets a ten second timeout.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Count(ctx context.Context, roomID, userID string) (model.LiveCounter, error) {
	var c model.LiveCounter
	err := t.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/count", userID, nil, &c)
	return c, err
}

func (t *HTTPTransport) CountBulk(ctx context.Context, roomID, userID string, req types.BulkRequest) (model.BulkResult, error) {
	var res model.BulkResult
	err := t.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/count/bulk", userID, req, &res)
	return res, err
}

func (t *HTTPTransport) post(ctx context.Context, path, userID string, body, out any) error {
	var r io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-User-ID", userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode reply: %v", ErrServer, err)
	}
	return nil
}

type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	MaxCount int    `json:"maxCount"`
}

func statusError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
	msg := eb.Message
	if msg == "" {
		msg = resp.Status
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = model.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		kind = model.ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		kind = model.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		kind = model.ErrInvalidInput
	case resp.StatusCode == http.StatusConflict:
		kind = model.ErrConflict
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		kind = &model.BatchLimitError{Max: eb.MaxCount}
	default:
		kind = ErrServer
	}
	return fmt.Errorf("%w: %s", kind, msg)
}
