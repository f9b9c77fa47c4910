package collytransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsSuccessfulResponse(t *testing.T) {
	t.Parallel()

	var gotAcceptLanguage, gotUserAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAcceptLanguage = r.Header.Get("Accept-Language")
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>resultats</html>"))
	}))
	defer srv.Close()

	transport := New(Config{
		UserAgent:      "harvester-test",
		AcceptLanguage: "fr-FR",
		Timeout:        5 * time.Second,
	})
	result, err := transport.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "<html>resultats</html>", string(result.Body))
	require.Equal(t, "text/html", result.Headers.Get("Content-Type"))
	require.Positive(t, result.Duration)
	require.Equal(t, "fr-FR", gotAcceptLanguage)
	require.Equal(t, "harvester-test", gotUserAgent)
}

func TestGetSurfacesHTTPErrorsAsResults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
	}{
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "not found", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "30")
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			transport := New(Config{Timeout: 5 * time.Second})
			result, err := transport.Get(context.Background(), srv.URL)
			require.NoError(t, err, "an HTTP response is not a transport failure")
			require.Equal(t, tc.status, result.StatusCode)
			if tc.status == http.StatusTooManyRequests {
				require.Equal(t, "30", result.Headers.Get("Retry-After"))
			}
		})
	}
}

func TestGetReturnsErrorWhenServerUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	transport := New(Config{Timeout: time.Second})
	_, err := transport.Get(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestGetHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	transport := New(Config{Timeout: 10 * time.Second})
	_, err := transport.Get(ctx, srv.URL)
	require.Error(t, err)
	require.ErrorContains(t, err, "canceled")
}

func TestGetIsolatesRequestsAcrossCalls(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	transport := New(Config{Timeout: 5 * time.Second})
	for i := 0; i < 3; i++ {
		result, err := transport.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, result.StatusCode)
	}
	require.Equal(t, 3, hits)
}
