package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"p2pmaker/internal/core"
	"p2pmaker/internal/dispatch"
	"p2pmaker/internal/health"
	"p2pmaker/internal/mock"
	"p2pmaker/internal/ordersync"
	"p2pmaker/internal/positioning"
	"p2pmaker/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server        *Server
	venue         *mock.Venue
	dispatchStore core.IDispatchStore
	orderStore    core.IOrderStore
	monitor       *health.Monitor
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	logger := mock.NewLogger()
	venue := mock.NewVenue()
	venues := map[string]core.IVenue{"m1": venue}

	dispatchStore := storage.NewMemoryDispatchStore()
	orderStore := storage.NewMemoryOrderStore()

	queue, err := dispatch.NewQueue(dispatch.DefaultConfig(), dispatchStore, venues, logger)
	require.NoError(t, err)

	sync, err := ordersync.NewSynchronizer(ordersync.DefaultConfig(), venues, orderStore, logger)
	require.NoError(t, err)

	scheduler, err := positioning.NewScheduler(positioning.DefaultConfig(), nil, venues,
		storage.NewMemoryTupleStateStore(), logger)
	require.NoError(t, err)

	monitor := health.NewMonitor(logger)
	hub := NewHub(logger)

	s := NewServer(Config{
		ListenAddr:     ":0",
		MaxConnections: 4,
		RateLimitPerIP: 100,
		RateBurstPerIP: 100,
	}, hub, queue, dispatchStore, orderStore, scheduler, sync, monitor, logger)

	return &serverFixture{
		server:        s,
		venue:         venue,
		dispatchStore: dispatchStore,
		orderStore:    orderStore,
		monitor:       monitor,
	}
}

func doJSON(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func enqueueBody() map[string]interface{} {
	return map[string]interface{}{
		"merchantId": "m1",
		"intent": map[string]interface{}{
			"type":         "FIXED_AMOUNT",
			"asset":        "USDT",
			"fiatCurrency": "EUR",
			"amount":       "100",
		},
	}
}

func TestEnqueueAndListDispatches(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/dispatches", enqueueBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created core.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, core.DispatchPending, created.State)
	assert.NotEmpty(t, created.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/dispatches?merchant=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []core.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/dispatches?merchant=m1&state=PENDING", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/dispatches", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "merchant query is required")
}

func TestEnqueueRejectsBadIntent(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	body := enqueueBody()
	body["intent"].(map[string]interface{})["type"] = "BOGUS"
	rec := doJSON(t, h, http.MethodPost, "/api/dispatches", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/dispatches", bytes.NewBufferString("{broken"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelDispatchOverHTTP(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/dispatches", enqueueBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created core.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, "/api/dispatches/"+created.ID+"/cancel?merchant=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled core.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, core.DispatchCancelled, cancelled.State)

	// Cancelling a terminal dispatch conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/dispatches/"+created.ID+"/cancel?merchant=m1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryAndResetOverHTTP(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	dead := &core.Dispatch{
		ID:         "d-dead",
		MerchantID: "m1",
		Intent: core.BuyIntent{
			Type:         core.IntentFixedAmount,
			Asset:        "USDT",
			FiatCurrency: "EUR",
			Amount:       decimal.RequireFromString("100"),
		},
		State:            core.DispatchDead,
		AttemptCount:     5,
		IdempotencyToken: "tok-1",
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, f.dispatchStore.Create(t.Context(), dead))

	rec := doJSON(t, h, http.MethodPost, "/api/dispatches/d-dead/reset-attempts?merchant=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d core.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Zero(t, d.AttemptCount)

	rec = doJSON(t, h, http.MethodPost, "/api/dispatches/d-dead/retry?merchant=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, core.DispatchRetrying, d.State)

	rec = doJSON(t, h, http.MethodPost, "/api/dispatches/d-dead/retry", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "merchant query is required")
}

func TestListOrdersOverHTTP(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	require.NoError(t, f.orderStore.Upsert(t.Context(), &core.Order{
		OrderNumber:  "ORD-1",
		MerchantID:   "m1",
		Status:       core.OrderStatusPaid,
		Side:         core.SideBuy,
		Asset:        "USDT",
		FiatCurrency: "EUR",
		Amount:       decimal.RequireFromString("100"),
		Price:        decimal.RequireFromString("0.95"),
		CreatedAt:    time.Now(),
	}))

	rec := doJSON(t, h, http.MethodGet, "/api/orders?merchant=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []core.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	rec = doJSON(t, h, http.MethodGet, "/api/orders?merchant=m1&status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Empty(t, orders)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = doJSON(t, h, http.MethodGet, "/api/orders?merchant=m1&since="+future, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Empty(t, orders)

	rec = doJSON(t, h, http.MethodGet, "/api/orders?merchant=m1&since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncEndpoint(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	f.venue.SetOrder(&core.Order{
		OrderNumber:  "ORD-7",
		MerchantID:   "m1",
		Status:       core.OrderStatusCreated,
		Side:         core.SideBuy,
		Asset:        "USDT",
		FiatCurrency: "EUR",
		Amount:       decimal.RequireFromString("50"),
		CreatedAt:    time.Now(),
	})

	rec := doJSON(t, h, http.MethodPost, "/api/sync?merchant=m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.orderStore.Get(t.Context(), "m1", "ORD-7")
	require.NoError(t, err)
	require.NotNil(t, got)

	rec = doJSON(t, h, http.MethodPost, "/api/sync?merchant=nobody", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositioningSnapshotEndpoint(t *testing.T) {
	f := newTestServer(t)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/api/positioning", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestServer(t)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.monitor.Register("database", func() error { return errors.New("locked") })
	rec = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	components, ok := body["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, components["database"], "Unhealthy")
}
