package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastClient() *Client {
	return NewClient(nil, WithBackoff(time.Millisecond))
}

func TestPostJSONRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	data, err := newFastClient().PostJSON(context.Background(), srv.URL, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostJSONExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newFastClient().PostJSON(context.Background(), srv.URL, []byte(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, int32(DefaultAttempts), calls.Load())
	assert.Contains(t, err.Error(), "status=503")
}

func TestPostJSONTerminalStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newFastClient().PostJSON(context.Background(), srv.URL, []byte(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
}

func TestGetJSONNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newFastClient().GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestPostJSONHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(nil).PostJSON(ctx, srv.URL, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(502))
	assert.True(t, Transient(503))
	assert.True(t, Transient(504))
	assert.False(t, Transient(500))
	assert.False(t, Transient(404))
}
