package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder(t *testing.T) {
	svc := newOrderService(stubOptions{seed: 1}, zap.NewNop())
	rec := post(t, svc.routes(), `{"customerId":"cust-1-0","productId":"p-7","quantity":3,"totalAmount":1500}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp.OrderID)
	assert.NoError(t, err)
	assert.Equal(t, "cust-1-0", resp.CustomerID)
	assert.Equal(t, 1500.0, resp.TotalAmount)
	assert.Equal(t, int64(1), svc.created.Load())
}

func TestCreateOrderNumericIDs(t *testing.T) {
	svc := newOrderService(stubOptions{seed: 1}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/orders/with-headers",
		strings.NewReader(`{"customerId":4821,"productId":7,"quantity":2,"price":499.99}`))
	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "4821", resp.CustomerID)
	assert.InDelta(t, 999.98, resp.TotalAmount, 1e-9)
}

func TestCreateOrderRejects(t *testing.T) {
	svc := newOrderService(stubOptions{seed: 1}, zap.NewNop())
	h := svc.routes()

	assert.Equal(t, http.StatusBadRequest, post(t, h, `{`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, post(t, h, `{"quantity":1}`).Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, int64(2), svc.failed.Load())
}

func TestInjectedFailures(t *testing.T) {
	svc := newOrderService(stubOptions{errorRate: 1, seed: 1}, zap.NewNop())
	rec := post(t, svc.routes(), `{"customerId":"c"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDelay(t *testing.T) {
	svc := newOrderService(stubOptions{delay: 30 * time.Millisecond, jitter: 10 * time.Millisecond, seed: 1}, zap.NewNop())
	start := time.Now()
	rec := post(t, svc.routes(), `{"customerId":"c"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestHealth(t *testing.T) {
	svc := newOrderService(stubOptions{}, zap.NewNop())
	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, addr, newOrderService(stubOptions{}, zap.NewNop()), zap.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
