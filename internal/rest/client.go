// Package rest implements the client for the marketplace REST backend:
// notification snapshot fetches and idempotent mark-as-read requests.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/notify"
	"github.com/bazaarhq/livesync/internal/token"
)

// Client talks to the REST backend. It satisfies notify.Backend.
type Client struct {
	http    *http.Client
	baseURL string
	tokens  token.Source
	logger  *zap.Logger
}

// New creates a backend client. baseURL must not end with a slash.
func New(baseURL string, timeout time.Duration, tokens token.Source, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		logger:  logger,
	}
}

// FetchSnapshot returns the backend's full current notification list.
func (c *Client) FetchSnapshot(ctx context.Context) ([]notify.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/notifications", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("snapshot returned status %d: %s", resp.StatusCode, string(body))
	}

	var records []notify.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	c.logger.Debug("snapshot fetched", zap.Int("count", len(records)))
	return records, nil
}

// MarkRead issues the idempotent server-side mark-as-read for one
// notification. Success or failure only; no body is consumed.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/notifications/"+id+"/read", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mark-read request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mark-read returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "livesync/1.0")
	return req, nil
}
