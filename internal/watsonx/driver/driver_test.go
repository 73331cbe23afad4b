package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKindFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{429, KindRateLimited},
		{401, KindUnauthorized},
		{403, KindUnauthorized},
		{404, KindNotFound},
		{400, KindBadRequest},
		{422, KindBadRequest},
		{500, KindUnavailable},
		{503, KindUnavailable},
		{302, KindUnknown},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, KindFromStatus(tc.status), "status %d", tc.status)
	}
}

func TestIsRateLimitedSeesThroughWrapping(t *testing.T) {
	perr := NewProviderError("generative", 429, []byte(" slow down "), http.Header{"Retry-After": []string{"3"}})
	require.Equal(t, "slow down", perr.Message)
	require.Equal(t, 3*time.Second, perr.RetryAfter)

	wrapped := fmt.Errorf("generate: %w", perr)
	require.True(t, IsRateLimited(wrapped))
	require.Equal(t, KindRateLimited, KindOf(wrapped))

	require.False(t, IsRateLimited(NewProviderError("generative", 500, nil, nil)))
	require.False(t, IsRateLimited(fmt.Errorf("plain")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestDoReturnsProviderErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("quota exceeded"))
	}))
	defer server.Close()

	_, err := Do(context.Background(), server.Client(), StaticToken("tok"), Call{
		Provider: "discovery",
		Method:   http.MethodGet,
		URL:      server.URL,
	})
	require.Error(t, err)
	require.True(t, IsRateLimited(err))
	require.Contains(t, err.Error(), "status 429")
	require.Contains(t, err.Error(), "quota exceeded")
}

func TestDoTracesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "trace.ndjson")
	stop, err := EnableTracing(path)
	require.NoError(t, err)
	require.True(t, IsTracingEnabled())

	body, err := Do(context.Background(), server.Client(), nil, Call{
		Provider:    "generative",
		Method:      http.MethodPost,
		URL:         server.URL,
		Body:        []byte(`{"input":"hi"}`),
		ContentType: "application/json",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(body))

	stop()
	require.False(t, IsTracingEnabled())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint:errcheck // test cleanup

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var entry TraceEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	require.Equal(t, "generative", entry.Provider)
	require.Equal(t, http.StatusOK, entry.StatusCode)
	require.JSONEq(t, `{"input":"hi"}`, string(entry.RequestBody))
}
