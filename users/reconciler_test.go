package users_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/jrsteele09/sso-gateway/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testAccessToken = "access-token-1"

type recordedCall struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
}

// fakeDirectory is a scripted user directory.
type fakeDirectory struct {
	mu sync.Mutex

	lookupStatus int
	lookupBody   string
	lookupETag   string
	createStatus int
	updateStatus int

	calls []recordedCall
}

func (d *fakeDirectory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, recordedCall{Method: r.Method, Path: r.URL.Path, RawQuery: r.URL.RawQuery, Header: r.Header.Clone()})

	switch r.Method {
	case http.MethodGet:
		if d.lookupETag != "" {
			w.Header().Set("ETag", d.lookupETag)
		}
		w.WriteHeader(d.lookupStatus)
		_, _ = w.Write([]byte(d.lookupBody))
	case http.MethodPost:
		w.WriteHeader(d.createStatus)
	case http.MethodPut:
		w.WriteHeader(d.updateStatus)
	}
}

func (d *fakeDirectory) callsFor(method string) []recordedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []recordedCall
	for _, c := range d.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func setupReconciler(t *testing.T, dir *fakeDirectory) *users.Reconciler {
	t.Helper()
	srv := httptest.NewServer(dir)
	t.Cleanup(srv.Close)
	return users.NewReconciler(users.ReconcilerConfig{BaseURL: srv.URL}, upstream.NewClient(), zerolog.Nop())
}

func TestReconcile_Found(t *testing.T) {
	dir := &fakeDirectory{lookupStatus: http.StatusOK, lookupBody: `{"user_id":1}`}
	r := setupReconciler(t, dir)

	ctx := upstream.WithCorrelationID(context.Background(), "corr-42")
	require.NoError(t, r.Reconcile(ctx, testAccessToken))

	require.Len(t, dir.callsFor(http.MethodGet), 1)
	require.Empty(t, dir.callsFor(http.MethodPost))
	require.Empty(t, dir.callsFor(http.MethodPut))

	lookup := dir.callsFor(http.MethodGet)[0]
	require.Equal(t, "/users/0/state", lookup.Path)
	require.Equal(t, "Bearer "+testAccessToken, lookup.Header.Get("Authorization"))
	require.Equal(t, "application/json", lookup.Header.Get("Content-Type"))
	require.Equal(t, "corr-42", lookup.Header.Get("x-correlation-id"))
}

func TestReconcile_NotFound(t *testing.T) {
	t.Run("create succeeds", func(t *testing.T) {
		for _, status := range []int{http.StatusOK, http.StatusCreated} {
			dir := &fakeDirectory{lookupStatus: http.StatusNotFound, createStatus: status}
			r := setupReconciler(t, dir)

			require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
			creates := dir.callsFor(http.MethodPost)
			require.Len(t, creates, 1)
			require.Equal(t, "/users", creates[0].Path)
			require.Equal(t, "Bearer "+testAccessToken, creates[0].Header.Get("Authorization"))
			require.Empty(t, dir.callsFor(http.MethodPut))
		}
	})

	t.Run("create fails", func(t *testing.T) {
		dir := &fakeDirectory{lookupStatus: http.StatusNotFound, createStatus: http.StatusInternalServerError}
		r := setupReconciler(t, dir)

		err := r.Reconcile(context.Background(), testAccessToken)
		require.ErrorIs(t, err, apperrors.ErrUserCreateFailed)
		require.Len(t, dir.callsFor(http.MethodPost), 1)
		require.Len(t, dir.callsFor(http.MethodGet), 1)
	})
}

func TestReconcile_Conflict(t *testing.T) {
	t.Run("update with If-Match", func(t *testing.T) {
		dir := &fakeDirectory{
			lookupStatus: http.StatusConflict,
			lookupBody:   `{"user_id":"42","version":"v3"}`,
			updateStatus: http.StatusOK,
		}
		r := setupReconciler(t, dir)

		require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
		updates := dir.callsFor(http.MethodPut)
		require.Len(t, updates, 1)
		require.Equal(t, "/users/42", updates[0].Path)
		require.Equal(t, "v3", updates[0].Header.Get("If-Match"))
		require.Empty(t, dir.callsFor(http.MethodPost))
	})

	t.Run("reserved characters in user_id stay in one path segment", func(t *testing.T) {
		for _, userID := range []string{"42?x=1", "../admin"} {
			dir := &fakeDirectory{
				lookupStatus: http.StatusConflict,
				lookupBody:   `{"user_id":"` + userID + `","version":"v3"}`,
				updateStatus: http.StatusOK,
			}
			r := setupReconciler(t, dir)

			require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
			updates := dir.callsFor(http.MethodPut)
			require.Len(t, updates, 1)
			require.Equal(t, "/users/"+userID, updates[0].Path)
			require.Empty(t, updates[0].RawQuery)
		}
	})

	t.Run("numeric fields and no content", func(t *testing.T) {
		dir := &fakeDirectory{
			lookupStatus: http.StatusConflict,
			lookupBody:   `{"user_id":42,"version":3}`,
			updateStatus: http.StatusNoContent,
		}
		r := setupReconciler(t, dir)

		require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
		updates := dir.callsFor(http.MethodPut)
		require.Len(t, updates, 1)
		require.Equal(t, "/users/42", updates[0].Path)
		require.Equal(t, "3", updates[0].Header.Get("If-Match"))
	})

	t.Run("version from ETag", func(t *testing.T) {
		dir := &fakeDirectory{
			lookupStatus: http.StatusConflict,
			lookupBody:   `{"user_id":"42"}`,
			lookupETag:   `W/"v3"`,
			updateStatus: http.StatusOK,
		}
		r := setupReconciler(t, dir)

		require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
		updates := dir.callsFor(http.MethodPut)
		require.Len(t, updates, 1)
		require.Equal(t, "v3", updates[0].Header.Get("If-Match"))
	})

	t.Run("agreeing body and ETag", func(t *testing.T) {
		dir := &fakeDirectory{
			lookupStatus: http.StatusConflict,
			lookupBody:   `{"user_id":"42","version":"v3"}`,
			lookupETag:   `"v3"`,
			updateStatus: http.StatusOK,
		}
		r := setupReconciler(t, dir)

		require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
		require.Len(t, dir.callsFor(http.MethodPut), 1)
	})

	t.Run("disagreeing body and ETag", func(t *testing.T) {
		dir := &fakeDirectory{
			lookupStatus: http.StatusConflict,
			lookupBody:   `{"user_id":"42","version":"v3"}`,
			lookupETag:   `"v4"`,
			updateStatus: http.StatusOK,
		}
		r := setupReconciler(t, dir)

		err := r.Reconcile(context.Background(), testAccessToken)
		require.ErrorIs(t, err, apperrors.ErrAmbiguousConcurrencyToken)
		require.Empty(t, dir.callsFor(http.MethodPut))
	})

	t.Run("missing fields deny without update", func(t *testing.T) {
		bodies := []string{
			`{"version":"v3"}`,
			`{"user_id":"42"}`,
			`{}`,
			``,
			`not json`,
		}
		for _, body := range bodies {
			dir := &fakeDirectory{lookupStatus: http.StatusConflict, lookupBody: body, updateStatus: http.StatusOK}
			r := setupReconciler(t, dir)

			err := r.Reconcile(context.Background(), testAccessToken)
			require.ErrorIs(t, err, apperrors.ErrMissingConcurrencyToken, body)
			require.Empty(t, dir.callsFor(http.MethodPut), body)
		}
	})

	t.Run("update fails", func(t *testing.T) {
		dir := &fakeDirectory{
			lookupStatus: http.StatusConflict,
			lookupBody:   `{"user_id":"42","version":"v3"}`,
			updateStatus: http.StatusPreconditionFailed,
		}
		r := setupReconciler(t, dir)

		err := r.Reconcile(context.Background(), testAccessToken)
		require.ErrorIs(t, err, apperrors.ErrUserUpdateFailed)
		require.Len(t, dir.callsFor(http.MethodPut), 1)
	})
}

func TestReconcile_LookupFailed(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError, http.StatusCreated} {
		dir := &fakeDirectory{lookupStatus: status}
		r := setupReconciler(t, dir)

		err := r.Reconcile(context.Background(), testAccessToken)
		require.ErrorIs(t, err, apperrors.ErrUserLookupFailed)
		require.Empty(t, dir.callsFor(http.MethodPost))
		require.Empty(t, dir.callsFor(http.MethodPut))
	}

	t.Run("network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		r := users.NewReconciler(users.ReconcilerConfig{BaseURL: srv.URL}, upstream.NewClient(), zerolog.Nop())

		err := r.Reconcile(context.Background(), testAccessToken)
		require.ErrorIs(t, err, apperrors.ErrUserLookupFailed)
	})
}

func TestReconcile_CustomPaths(t *testing.T) {
	dir := &fakeDirectory{
		lookupStatus: http.StatusConflict,
		lookupBody:   `{"user_id":"7","version":"1"}`,
		updateStatus: http.StatusOK,
	}
	srv := httptest.NewServer(dir)
	defer srv.Close()

	r := users.NewReconciler(users.ReconcilerConfig{
		BaseURL:    srv.URL + "/",
		LookupPath: "/v2/me",
		UpdatePath: "/v2/users/",
	}, upstream.NewClient(), zerolog.Nop())

	require.NoError(t, r.Reconcile(context.Background(), testAccessToken))
	require.Equal(t, "/v2/me", dir.callsFor(http.MethodGet)[0].Path)
	require.Equal(t, "/v2/users/7", dir.callsFor(http.MethodPut)[0].Path)
}
