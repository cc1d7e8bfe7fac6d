package httpclient

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

func TestExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL)
	req.RetryInterval = time.Millisecond
	resp, err := Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, `{"ok":true}`, resp.BodyString)
}

func TestExecutePassesThrough4xxImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL)
	req.RetryInterval = time.Millisecond
	resp, err := Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.IsClientError())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteRetries5xxThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL)
	req.RetryCount = 2
	req.RetryInterval = time.Millisecond
	_, err := Execute(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteCustomRetryableHook(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := NewRequest(http.MethodGet, srv.URL)
	req.RetryInterval = time.Millisecond
	req.IsRetryable = func(r *Response) bool { return r.StatusCode == http.StatusAccepted }
	resp, err := Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
