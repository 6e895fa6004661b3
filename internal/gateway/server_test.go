package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/engine"
	"github.com/openfutures/margind/internal/ledger"
	"github.com/openfutures/margind/internal/pricecache"
	"github.com/openfutures/margind/internal/stream"
)

// startEngine runs a full consumer loop over the in-memory transport so the
// gateway talks to the real command/response path.
func startEngine(t *testing.T) *stream.Memory {
	t.Helper()

	transport := stream.NewMemory(10*time.Millisecond, 10)
	book := ledger.New(decimal.NewFromInt(5000))
	cache := pricecache.New(100)
	processor := engine.NewProcessor(book, cache, ledger.NewEvaluator(book, zap.NewNop()), zap.NewNop())

	loop, err := engine.NewLoop(engine.LoopConfig{
		Consumer:  transport,
		Publisher: transport,
		Processor: processor,
		Ledger:    book,
		Cache:     cache,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, transport.PublishCommand(context.Background(), map[string]string{
		"action": "UPDATED_PRICE",
		"symbol": "SOL",
		"price":  "50",
	}))
	return transport
}

func newTestServer(t *testing.T, transport Transport, timeout time.Duration) *httptest.Server {
	t.Helper()
	srv, err := NewServer(":0", transport, timeout, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) json.RawMessage {
	t.Helper()
	defer resp.Body.Close()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope["message"]
}

func TestServer_CreateAndClose(t *testing.T) {
	transport := startEngine(t)
	ts := newTestServer(t, transport, 5*time.Second)

	resp := postJSON(t, ts.URL+"/api/v1/trade/create", map[string]string{
		"asset":    "SOL",
		"type":     "LONG",
		"margin":   "100",
		"leverage": "10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created domain.OrderCreated
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp), &created))
	assert.Equal(t, domain.StatusSuccess, created.Status)
	require.NotNil(t, created.Order)
	assert.True(t, created.Balance.Equal(decimal.NewFromInt(4900)))

	resp = postJSON(t, ts.URL+"/api/v1/trade/close", map[string]string{
		"orderId": created.Order.OrderID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var closed domain.OrderClosed
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp), &closed))
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.True(t, closed.Balance.Equal(decimal.NewFromInt(5000)))
}

func TestServer_CreateRejectedWithoutPrice(t *testing.T) {
	transport := startEngine(t)
	ts := newTestServer(t, transport, 5*time.Second)

	resp := postJSON(t, ts.URL+"/api/v1/trade/create", map[string]string{
		"asset":    "BTC", // no tick has arrived for this one
		"type":     "SHORT",
		"margin":   "100",
		"leverage": "5",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var engineErr domain.OrderError
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp), &engineErr))
	assert.Equal(t, domain.StatusError, engineErr.Status)
	assert.Equal(t, domain.ReasonNoPrice, engineErr.Reason)
}

func TestServer_BalanceEndpoints(t *testing.T) {
	transport := startEngine(t)
	ts := newTestServer(t, transport, 5*time.Second)

	for _, path := range []string{"/api/v1/balance", "/api/v1/balance_usd"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var report map[string]decimal.Decimal
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp), &report))
		require.Len(t, report, 1, path)
		for _, balance := range report {
			assert.True(t, balance.Equal(decimal.NewFromInt(5000)), path)
		}
	}
}

func TestServer_BadRequests(t *testing.T) {
	transport := stream.NewMemory(10*time.Millisecond, 10)
	ts := newTestServer(t, transport, time.Second)

	// missing required fields
	resp := postJSON(t, ts.URL+"/api/v1/trade/create", map[string]string{"asset": "SOL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/trade/close", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// malformed body
	raw, err := http.Post(ts.URL+"/api/v1/trade/create", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	raw.Body.Close()
}

func TestServer_TimeoutWithoutEngine(t *testing.T) {
	// nobody consumes the command stream, so no response ever arrives
	transport := stream.NewMemory(10*time.Millisecond, 10)
	ts := newTestServer(t, transport, 200*time.Millisecond)

	resp := postJSON(t, ts.URL+"/api/v1/trade/close", map[string]string{"orderId": "ghost"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}
