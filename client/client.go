// Package client is the HTTP client for the txinspector server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/logsink"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/solana"
	"github.com/brojonat/txinspector/service/submission"
	"github.com/brojonat/txinspector/service/wallet"
)

// ErrConflict is returned when the server refuses a request because a
// submission is in progress.
var ErrConflict = errors.New("a submission is in progress")

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// Client is the HTTP client for the txinspector service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new txinspector service client.
// Submissions poll for confirmation on the server, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SubmissionList is a page of recorded submissions.
type SubmissionList struct {
	Submissions []*db.Submission `json:"submissions"`
	Count       int              `json:"count"`
	Limit       int              `json:"limit"`
	Offset      int              `json:"offset"`
}

// RPCState describes the server's endpoint selection.
type RPCState struct {
	Current   endpoints.Endpoint   `json:"current"`
	Endpoints []endpoints.Endpoint `json:"endpoints"`
	Busy      bool                 `json:"busy"`
}

// Health is the server's liveness report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Submit runs a submission on the server and returns its result.
func (c *Client) Submit(ctx context.Context, transaction string) (*submission.Result, error) {
	var res submission.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/submissions", map[string]string{"transaction": transaction}, http.StatusOK, &res); err != nil {
		return nil, err
	}
	c.logger.Debug("submission finished", "state", res.State, "signature", res.Signature)
	return &res, nil
}

// Decode asks the server to summarize a transaction.
func (c *Client) Decode(ctx context.Context, transaction string) (*solana.Summary, error) {
	var summary solana.Summary
	if err := c.do(ctx, http.MethodPost, "/api/v1/decode", map[string]string{"transaction": transaction}, http.StatusOK, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListSubmissions lists recorded submissions. An empty state matches every state.
func (c *Client) ListSubmissions(ctx context.Context, state string, limit, offset int) (*SubmissionList, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/submissions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list SubmissionList
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetSubmission fetches a recorded submission by signature.
func (c *Client) GetSubmission(ctx context.Context, signature string) (*db.Submission, error) {
	var sub db.Submission
	if err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(signature), nil, http.StatusOK, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Logs lists the session log. An empty level matches every level.
func (c *Client) Logs(ctx context.Context, level string) ([]logsink.Entry, error) {
	path := "/api/v1/logs"
	if level != "" {
		path += "?level=" + url.QueryEscape(level)
	}
	var resp struct {
		Logs []logsink.Entry `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// ClearLogs drops the session log.
func (c *Client) ClearLogs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/logs", nil, http.StatusNoContent, nil)
}

// ExportLogs downloads the session log document and the filename the server suggests.
func (c *Client) ExportLogs(ctx context.Context) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/v1/logs/export", nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", c.parseErrorResponse(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read export: %w", err)
	}

	filename := logsink.ExportFilename(time.Now())
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return data, filename, nil
}

// RPC describes the server's endpoint selection.
func (c *Client) RPC(ctx context.Context) (*RPCState, error) {
	var state RPCState
	if err := c.do(ctx, http.MethodGet, "/api/v1/rpc", nil, http.StatusOK, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SelectRPC changes the server's active endpoint. It returns ErrConflict while
// a submission is running.
func (c *Client) SelectRPC(ctx context.Context, endpoint string) (*endpoints.Endpoint, error) {
	var e endpoints.Endpoint
	if err := c.do(ctx, http.MethodPut, "/api/v1/rpc", map[string]string{"endpoint": endpoint}, http.StatusOK, &e); err != nil {
		return nil, err
	}
	c.logger.Debug("rpc endpoint selected", "endpoint", e.URL)
	return &e, nil
}

// Wallets lists the server's wallet adapters.
func (c *Client) Wallets(ctx context.Context) ([]wallet.Info, error) {
	return c.walletCall(ctx, http.MethodGet, "/api/v1/wallet", nil)
}

// SelectWallet selects a wallet adapter by name.
func (c *Client) SelectWallet(ctx context.Context, name string) ([]wallet.Info, error) {
	return c.walletCall(ctx, http.MethodPost, "/api/v1/wallet/select", map[string]string{"name": name})
}

// ConnectWallet connects the named adapter, or the selected one when name is empty.
func (c *Client) ConnectWallet(ctx context.Context, name string) ([]wallet.Info, error) {
	return c.walletCall(ctx, http.MethodPost, "/api/v1/wallet/connect", map[string]string{"name": name})
}

// DisconnectWallet disconnects the selected adapter.
func (c *Client) DisconnectWallet(ctx context.Context) ([]wallet.Info, error) {
	return c.walletCall(ctx, http.MethodPost, "/api/v1/wallet/disconnect", nil)
}

func (c *Client) walletCall(ctx context.Context, method, path string, body any) ([]wallet.Info, error) {
	var resp struct {
		Wallets []wallet.Info `json:"wallets"`
	}
	if err := c.do(ctx, method, path, body, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Wallets, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// StreamSubmissions follows the server's submission event stream until ctx ends
// or fn returns an error. An empty state matches every outcome.
func (c *Client) StreamSubmissions(ctx context.Context, state string, fn func(*natspkg.SubmissionEvent) error) error {
	path := "/api/v1/stream/submissions"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// streams outlive any client timeout
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if eventType != "submission" {
				continue
			}
			var event natspkg.SubmissionEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				c.logger.Warn("failed to decode submission event", "error", err)
				continue
			}
			if err := fn(&event); err != nil {
				return err
			}
		case line == "":
			eventType = ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	var sentinel error
	switch resp.StatusCode {
	case http.StatusConflict:
		sentinel = ErrConflict
	case http.StatusNotFound:
		sentinel = ErrNotFound
	}

	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		if sentinel != nil {
			return fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, string(body))
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
