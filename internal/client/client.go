// Package client talks to a running Hypnos server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/0xReLogic/Hypnos/internal/api"
)

const maxBody = 1 << 16

// StatusError is returned for any non-200 response.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Path, e.Code, strings.TrimSpace(e.Body))
}

type Client struct {
	baseURL string
	hc      *http.Client
}

// New returns a client for the server at baseURL (scheme://host:port). A nil
// hc uses http.DefaultClient.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), hc: hc}
}

func (c *Client) Misbehave(ctx context.Context) (string, error) {
	return c.get(ctx, api.PathMisbehave)
}

func (c *Client) Behave(ctx context.Context) (string, error) {
	return c.get(ctx, api.PathBehave)
}

func (c *Client) Sleep(ctx context.Context) (string, error) {
	return c.get(ctx, api.PathSleep)
}

func (c *Client) Awake(ctx context.Context) (string, error) {
	return c.get(ctx, api.PathAwake)
}

// Status reads both flags.
func (c *Client) Status(ctx context.Context) (api.Flags, error) {
	var flags api.Flags
	body, err := c.get(ctx, api.PathStatus)
	if err != nil {
		return flags, err
	}
	if err := json.Unmarshal([]byte(body), &flags); err != nil {
		return flags, fmt.Errorf("decode status: %w", err)
	}
	return flags, nil
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}
