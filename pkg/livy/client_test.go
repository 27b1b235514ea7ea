package livy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	var gotBody map[string]any
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/batches", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotHeader = r.Header.Get(RequestedByHeader)

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "state": "starting", "appId": null, "appInfo": {}, "log": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{})
	b, err := c.Submit(context.Background(), &BatchRequest{File: "main.py", Name: strPtr("nightly")})
	require.NoError(t, err)

	assert.Equal(t, 42, b.ID)
	assert.Equal(t, "starting", b.State)
	assert.Equal(t, "golivy", gotHeader)
	assert.Equal(t, map[string]any{"file": "main.py", "name": "nightly"}, gotBody)
}

func TestClient_SubmitRejectsMissingFile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Options{}).Submit(context.Background(), &BatchRequest{})
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_FetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/batches/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": 7, "state": "running", "appId": "application_1_0007"}`))
	}))
	defer srv.Close()

	b, err := NewClient(srv.URL+"/", Options{}).FetchStatus(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "running", b.State)
	assert.Equal(t, "application_1_0007", b.AppIDOrEmpty())
}

func TestClient_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "html error page", status: http.StatusBadGateway, body: "<html>bad gateway</html>"},
		{name: "not found", status: http.StatusNotFound, body: `Session '7' not found.`},
		{name: "malformed 200", status: http.StatusOK, body: `{"state": "running"}`},
		{name: "garbage 200", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, Options{}).FetchStatus(context.Background(), 7)
			require.Error(t, err)
			assert.True(t, IsProtocol(err))
			assert.False(t, IsTransport(err))

			var perr *ProtocolError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.True(t, perr.Retryable())
		})
	}
}

func TestClient_TransportErrorConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = NewClient("http://"+addr, Options{ConnectTimeout: time.Second}).FetchStatus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "status", terr.Op)
	assert.True(t, terr.Retryable())
}

func TestClient_TransportErrorReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, Options{ReadTimeout: 50 * time.Millisecond}).FetchStatus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestClient_RedactsCredentialsInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "s3cret", pass)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	endpoint := strings.Replace(srv.URL, "http://", "http://alice:s3cret@", 1)
	_, err := NewClient(endpoint, Options{}).FetchStatus(context.Background(), 1)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
}

func TestClient_ContextCancelledIsNotTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(srv.URL, Options{}).FetchStatus(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransport(err))
}
