package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dessert-admin/metrics"
	"dessert-admin/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestClient(t *testing.T, h http.HandlerFunc, sleeps *recordedSleeps) (*Client, *metrics.ClientMetrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := metrics.NewClientMetrics(prometheus.NewRegistry())
	return NewClient(Options{
		URL:        srv.URL,
		MaxRetries: 2,
		BaseDelay:  100 * time.Millisecond,
		Metrics:    m,
		Sleep:      sleeps.sleep,
	}), m
}

func TestSendListOrders(t *testing.T) {
	var got map[string]any
	h := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get(IdempotencyHeader), "list is not a mutation")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"orders":[{"order_id":"A1","customer_name":"Ana","payment_status":"Pendiente"}]}`))
	}
	c, _ := newTestClient(t, h, &recordedSleeps{})

	var out ListOrdersResponse
	err := c.Send(context.Background(), ActionListOrders, ListOrdersRequest{AdminPIN: "1234", PaymentStatus: models.StatusPending}, &out)
	require.NoError(t, err)

	assert.Equal(t, "list_orders", got["action"])
	assert.Equal(t, "1234", got["admin_pin"])
	assert.Equal(t, "Pendiente", got["payment_status"])
	require.Len(t, out.Orders, 1)
	assert.Equal(t, "A1", out.Orders[0].ID)
}

func TestSendListOrdersSkipsBrokenRow(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"orders":[
			{"order_id":"A1","payment_status":"Pendiente"},
			{"order_id":"B2","payment_status":["Pendiente"]},
			{"order_id":"C3","payment_status":"Pendiente","items":[{"id":"x","qty":1}]}
		]}`))
	}
	c, _ := newTestClient(t, h, &recordedSleeps{})

	var out ListOrdersResponse
	require.NoError(t, c.Send(context.Background(), ActionListOrders, ListOrdersRequest{AdminPIN: "1234"}, &out))
	require.Len(t, out.Orders, 2)
	assert.Equal(t, "A1", out.Orders[0].ID)
	assert.Equal(t, "C3", out.Orders[1].ID)
	assert.Equal(t, 1, out.Skipped)
}

func TestSendUndecodableBodyIsDecodeError(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"orders":"none"}`))
	}
	c, _ := newTestClient(t, h, &recordedSleeps{})

	var out ListOrdersResponse
	err := c.Send(context.Background(), ActionListOrders, ListOrdersRequest{AdminPIN: "1234"}, &out)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	var serr *ServerError
	assert.False(t, errors.As(err, &serr), "decode failures are not server rejections")
	assert.Equal(t, "decode_error", outcome(err))
}

func TestSendRateLimitedExhaustsRetries(t *testing.T) {
	var calls int
	h := func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}
	sleeps := &recordedSleeps{}
	c, m := newTestClient(t, h, sleeps)

	err := c.Send(context.Background(), ActionListOrders, ListOrdersRequest{AdminPIN: "1"}, nil)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, calls, "one attempt plus exactly two retries")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.delays)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retries.WithLabelValues(ActionListOrders)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(ActionListOrders, "rate_limited")))
}

func TestSendRecoversAfterRateLimit(t *testing.T) {
	var calls int
	h := func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}
	sleeps := &recordedSleeps{}
	c, _ := newTestClient(t, h, sleeps)

	err := c.Send(context.Background(), ActionMarkPaid, MarkPaidRequest{OrderID: "A1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, sleeps.delays, 1)
}

func TestSendKeepsIdempotencyKeyAcrossRetries(t *testing.T) {
	var keys []string
	h := func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(IdempotencyHeader))
		if len(keys) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}
	c, _ := newTestClient(t, h, &recordedSleeps{})

	require.NoError(t, c.Send(context.Background(), ActionCancelOrder, CancelOrderRequest{OrderID: "A1"}, nil))
	require.Len(t, keys, 3)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
}

func TestSendServerError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"ok false with message", http.StatusOK, `{"ok":false,"error":"PIN inválido"}`, "PIN inválido"},
		{"ok false without message", http.StatusOK, `{"ok":false}`, "Error en servidor"},
		{"500 json", http.StatusInternalServerError, `{"ok":false,"error":"boom"}`, "boom"},
		{"502 text", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"200 garbage", http.StatusOK, `<html>`, "respuesta inválida del servidor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}
			c, _ := newTestClient(t, h, &recordedSleeps{})
			err := c.Send(context.Background(), ActionUpdateOrder, UpdateOrderRequest{}, nil)

			var serr *ServerError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Equal(t, tt.wantMsg, serr.Message)
			assert.Equal(t, tt.status, serr.StatusCode)
		})
	}
}

func TestSendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{URL: url})
	err := c.Send(context.Background(), ActionListOrders, nil, nil)

	var nerr *NetworkError
	assert.True(t, errors.As(err, &nerr), "got %v", err)
}

func TestSendBackoffHonoursContext(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	srv := httptest.NewServer(http.HandlerFunc(h))
	defer srv.Close()

	c := NewClient(Options{URL: srv.URL, MaxRetries: 2, BaseDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, ActionListOrders, nil, nil)
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEncodeBodyFlattensAuth(t *testing.T) {
	body, err := encodeBody(ActionMarkPaid, MarkPaidRequest{
		Auth:          Auth{AdminPIN: "9", Operator: "Laura"},
		OrderID:       "A7",
		PaymentMethod: "Nequi",
		PaymentRef:    "983274",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"mark_paid","admin_pin":"9","operator":"Laura","order_id":"A7","payment_method":"Nequi","payment_ref":"983274"}`, string(body))

	_, err = encodeBody(ActionMarkPaid, []int{1})
	assert.Error(t, err)
}
