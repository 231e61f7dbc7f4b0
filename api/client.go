package api

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

	"dessert-admin/logger"
	"dessert-admin/metrics"

	"github.com/google/uuid"
)

const (
	ActionListOrders  = "list_orders"
	ActionUpdateOrder = "update_order"
	ActionMarkPaid    = "mark_paid"
	ActionCancelOrder = "cancel_order"

	IdempotencyHeader = "Idempotency-Key"

	defaultServerError = "Error en servidor"
)

// Options configure a Client. Zero values fall back to sensible defaults.
type Options struct {
	URL        string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	Metrics    *metrics.ClientMetrics
	Logger     *logger.Logger
	// Sleep waits between rate-limited attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client sends single POST RPC calls to the order API.
type Client struct {
	url        string
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
	metrics    *metrics.ClientMetrics
	log        *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options) *Client {
	c := &Client{
		url:        opts.URL,
		http:       opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		sleep:      opts.Sleep,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 600 * time.Millisecond
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Send posts {action, ...payload} and decodes a successful response into out
// (which may be nil). A 429 response is retried up to MaxRetries times, waiting
// BaseDelay*n before the n-th retry.
func (c *Client) Send(ctx context.Context, action string, payload any, out any) error {
	body, err := encodeBody(action, payload)
	if err != nil {
		return err
	}

	var idemKey string
	if action != ActionListOrders {
		idemKey = uuid.NewString()
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		err = c.do(ctx, body, idemKey, out)
		if !errors.Is(err, errRetryable) {
			break
		}
		if attempt >= c.maxRetries {
			err = ErrRateLimited
			break
		}
		delay := c.baseDelay * time.Duration(attempt+1)
		c.log.Warn("rate limited, backing off", "action", action, "retry", attempt+1, "delay", delay)
		c.metrics.ObserveRetry(action)
		if serr := c.sleep(ctx, delay); serr != nil {
			err = &NetworkError{Err: serr}
			break
		}
	}

	c.metrics.ObserveCall(action, outcome(err), float64(time.Since(start).Milliseconds()))
	if err != nil {
		c.log.Error("api call failed", "action", action, "error", err)
		return err
	}
	c.log.Debug("api call ok", "action", action, "duration", time.Since(start))
	return nil
}

var errRetryable = errors.New("rate limited")

func (c *Client) do(ctx context.Context, body []byte, idemKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(IdempotencyHeader, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errRetryable
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			msg = "respuesta inválida del servidor"
		}
		return &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}
	if !env.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = defaultServerError
		}
		return &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &DecodeError{Err: err}
		}
	}
	return nil
}

func encodeBody(action string, payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	fields["action"] = action
	return json.Marshal(fields)
}

func outcome(err error) string {
	var serr *ServerError
	var nerr *NetworkError
	var derr *DecodeError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.As(err, &serr):
		return "server_error"
	case errors.As(err, &nerr):
		return "network_error"
	case errors.As(err, &derr):
		return "decode_error"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
