package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tradejournal/src/stream"
)

func TestRouterHealthcheck(t *testing.T) {
	srv := httptest.NewServer(NewRouter(stream.NewRegistry(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// structure route is only mounted with a repository
	resp2, err := http.Get(srv.URL + "/structure?symbol=BTCUSDT")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestRouterStreams(t *testing.T) {
	srv := httptest.NewServer(NewRouter(stream.NewRegistry(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/streams")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var statuses []stream.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.Empty(t, statuses)
}

func TestStartServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, "0", NewRouter(stream.NewRegistry(), nil)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
