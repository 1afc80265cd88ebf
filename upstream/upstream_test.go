package upstream_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/stretchr/testify/require"
)

func TestClientDo(t *testing.T) {
	var gotHeader http.Header
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &gotBody)
		}
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("ETag", `"7"`)
			_, _ = w.Write([]byte(`{"user_id":"42"}`))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := upstream.NewClient()
	ctx := upstream.WithCorrelationID(context.Background(), "corr-1")

	t.Run("2xx is KindOK with headers and body", func(t *testing.T) {
		res := client.Do(ctx, upstream.Request{
			Method:      http.MethodPost,
			URL:         srv.URL + "/ok",
			BearerToken: "token-a",
			JSON:        struct{}{},
		})
		require.Equal(t, upstream.KindOK, res.Kind)
		require.True(t, res.OK())
		require.Equal(t, http.StatusOK, res.Status)
		require.Equal(t, `"7"`, res.Header.Get("ETag"))

		var body struct {
			UserID string `json:"user_id"`
		}
		require.NoError(t, res.DecodeJSON(&body))
		require.Equal(t, "42", body.UserID)

		require.Equal(t, "Bearer token-a", gotHeader.Get("Authorization"))
		require.Equal(t, "application/json", gotHeader.Get("Content-Type"))
		require.Equal(t, "corr-1", gotHeader.Get("x-correlation-id"))
		require.Empty(t, gotBody)
	})

	t.Run("non 2xx is KindHTTPError", func(t *testing.T) {
		res := client.Do(context.Background(), upstream.Request{Method: http.MethodGet, URL: srv.URL + "/missing"})
		require.Equal(t, upstream.KindHTTPError, res.Kind)
		require.Equal(t, http.StatusNotFound, res.Status)
		require.Empty(t, gotHeader.Get("Authorization"))
		require.Empty(t, gotHeader.Get("x-correlation-id"))
	})

	t.Run("transport failure is KindNetworkError", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()
		res := client.Do(context.Background(), upstream.Request{Method: http.MethodGet, URL: closed.URL})
		require.Equal(t, upstream.KindNetworkError, res.Kind)
		require.Error(t, res.Err)
	})
}

func TestClientDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.WithTimeout(50 * time.Millisecond))
	res := client.Do(context.Background(), upstream.Request{Method: http.MethodGet, URL: srv.URL})
	require.Equal(t, upstream.KindNetworkError, res.Kind)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(upstream.WithCorrelationID(context.Background(), "abc"))
	detached, stop := upstream.Detach(parent, time.Minute)
	defer stop()

	cancel()
	require.NoError(t, detached.Err())
	require.Equal(t, "abc", upstream.CorrelationID(detached))

	_, hasDeadline := detached.Deadline()
	require.True(t, hasDeadline)
}
