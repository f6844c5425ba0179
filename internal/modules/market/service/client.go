package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signal_bot/pkg/logger"
	"signal_bot/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// ErrNoData marks an empty or unparseable payload. Callers skip the instrument.
var ErrNoData = errors.New("no market data")

// TransientError is a failure worth retrying: network errors, 429, 418 and 5xx.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

type Config struct {
	BaseURL        string
	WSURL          string
	RequestTimeout time.Duration
	PriceMaxAge    time.Duration
	Retry          retry.Policy
}

// Client talks to the Binance USDT-M futures public API.
type Client struct {
	cfg      Config
	http     *http.Client
	wsDialer *websocket.Dialer
	prices   *priceCache
	flight   singleflight.Group
}

func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		wsDialer: &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout},
		prices:   newPriceCache(),
	}
}

// get performs a single GET and classifies the failure.
func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusTeapot, resp.StatusCode >= 500:
		return nil, &TransientError{Op: op, Status: resp.StatusCode, Err: errors.New(snippet(b))}
	case resp.StatusCode/100 != 2:
		return nil, errors.Errorf("%s: http %d: %s", op, resp.StatusCode, snippet(b))
	}
	return b, nil
}

// fetch is get under the retry policy. Only transient failures are retried.
func (c *Client) fetch(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	return retry.Value(ctx, c.cfg.Retry, IsTransient,
		func(ctx context.Context) ([]byte, error) {
			return c.get(ctx, op, path, q)
		},
		func(err error, wait time.Duration) {
			logger.Warn("market: %v, retrying in %s", err, wait)
		},
	)
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
