package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryExhaustionReturnsFinalAPIError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(nethttp.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second, nil, 2)
	_, err := c.Get(context.Background(), "/anything", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, nethttp.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestZeroRetriesStillYieldsAPIError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		attempts.Add(1)
		w.WriteHeader(nethttp.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second, nil, 0)
	_, err := c.Post(context.Background(), "/orders", map[string]string{"a": "b"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, nethttp.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestTransportErrorStaysNonAPI(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, time.Second, nil, 1)
	_, err := c.Get(context.Background(), "/anything", nil)
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
