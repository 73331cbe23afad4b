package iam

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/docpilot/internal/watsonx/driver"
)

func TestTokenManagerCachesUntilExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "secret", r.PostForm.Get("apikey"))
		require.Equal(t, grantType, r.PostForm.Get("grant_type"))

		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	defer server.Close()

	m := NewTokenManager("secret", server.URL)
	m.HTTPClient = server.Client()
	m.Clock = clock

	token, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)

	clock.Advance(30 * time.Minute)
	token, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)

	clock.Advance(30 * time.Minute)
	token, err = m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", token)
	require.EqualValues(t, 2, calls.Load())
}

func TestTokenManagerRequiresAPIKey(t *testing.T) {
	_, err := NewTokenManager("", "").Token(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestTokenManagerSurfacesProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer server.Close()

	m := NewTokenManager("secret", server.URL)
	m.HTTPClient = server.Client()

	_, err := m.Token(context.Background())
	require.Equal(t, driver.KindBadRequest, driver.KindOf(err))
}

func TestSourcePrefersStaticToken(t *testing.T) {
	src := Source("static", "key", "", nil)
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "static", token)

	require.IsType(t, &TokenManager{}, Source("", "key", "", nil))
	require.Nil(t, Source("", "", "", nil))
}
