package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	apperrors "bandtrader/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastOptions = Options{
	MaxRetries:      3,
	BreakerFailures: 5,
	BreakerWindow:   10,
	BreakerDelay:    time.Minute,
}

func TestClient_RetriesReads(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, 5*time.Second, nil, fastOptions)
	body, err := client.Get(context.Background(), "/quote/ltp", url.Values{"i": {"NSE:INFY"}})
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	var attempts int32
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		_ = r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, 5*time.Second, nil, fastOptions)
	_, err := client.PostForm(context.Background(), "/orders/regular", url.Values{"tradingsymbol": {"INFY"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBrokerUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, "INFY", form.Get("tradingsymbol"))
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, 5*time.Second, nil, fastOptions)
	_, err := client.Get(context.Background(), "/orders/1", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_RateLimitClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	opts := fastOptions
	opts.MaxRetries = 0
	client := NewClientWithOptions(server.URL, 5*time.Second, nil, opts)
	_, err := client.Get(context.Background(), "/", nil)
	assert.ErrorIs(t, err, apperrors.ErrRateLimitExceeded)
	assert.True(t, apperrors.IsTransient(err))
}

func TestClient_Signer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token key:secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	signer := SignerFunc(func(req *http.Request) error {
		req.Header.Set("Authorization", "token key:secret")
		return nil
	})
	client := NewClientWithOptions(server.URL, 5*time.Second, signer, fastOptions)
	body, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestClient_CircuitBreaker(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClientWithOptions(server.URL, 5*time.Second, nil, fastOptions)
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}
	require.True(t, client.BreakerOpen())

	before := atomic.LoadInt32(&attempts)
	_, err := client.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBrokerUnavailable)
	assert.Equal(t, before, atomic.LoadInt32(&attempts))
}

func TestClient_NetworkError(t *testing.T) {
	opts := fastOptions
	opts.MaxRetries = 0
	client := NewClientWithOptions("http://127.0.0.1:1", time.Second, nil, opts)
	_, err := client.Get(context.Background(), "/", nil)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}
