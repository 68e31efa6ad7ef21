// Package roomapi is a small fasthttp client for the gateway's HTTP status surface.
package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chess-world/internal/results"
	"github.com/park285/chess-world/internal/session"
	"github.com/valyala/fasthttp"
)

var ErrNotFound = errors.New("roomapi: not found")

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

type Health struct {
	Status      string            `json:"status"`
	Sessions    int               `json:"sessions"`
	Peers       int               `json:"peers"`
	Connections int64             `json:"connections"`
	Uptime      string            `json:"uptime"`
	Checks      map[string]string `json:"checks,omitempty"`
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns the gateway health document. A degraded server answers 503 with a body, which is still decoded.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	status, body, err := c.do(ctx, "/healthz", false)
	if err != nil {
		return nil, err
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusServiceUnavailable {
		return nil, statusError(status, body)
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &h, nil
}

func (c *Client) Games(ctx context.Context) ([]session.Snapshot, error) {
	var out []session.Snapshot
	if err := c.getJSON(ctx, "/games", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Game(ctx context.Context, gameID string) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.getJSON(ctx, "/games/"+url.PathEscape(gameID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Board returns the PNG rendering of a live room.
func (c *Client) Board(ctx context.Context, gameID string, flip bool) ([]byte, error) {
	path := "/games/" + url.PathEscape(gameID) + "/board.png"
	if flip {
		path += "?flip=true"
	}
	status, body, err := c.do(ctx, path, true)
	if err != nil {
		return nil, err
	}
	if status == fasthttp.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != fasthttp.StatusOK {
		return nil, statusError(status, body)
	}
	return body, nil
}

func (c *Client) Results(ctx context.Context, limit int) ([]results.Record, error) {
	var out []results.Record
	path := "/results"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	status, body, err := c.do(ctx, path, true)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusNotFound {
		return ErrNotFound
	}
	if status < 200 || status >= 300 {
		return statusError(status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do issues a GET and returns status and a copy of the body. With retry set, transport errors and 5xx are retried.
func (c *Client) do(ctx context.Context, path string, retry bool) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err == nil && (attempts == 1 || !shouldRetryStatus(resp.StatusCode())) {
			return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
		}
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			lastErr = statusError(resp.StatusCode(), resp.Body())
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			break
		}
	}
	return 0, nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func statusError(status int, body []byte) error {
	return fmt.Errorf("roomapi error: status=%d body=%s", status, truncate(string(body), 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
