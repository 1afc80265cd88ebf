package broker_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/sso-gateway/broker"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestTestingSupportMinter_Mint(t *testing.T) {
	cases := map[string]struct {
		body    string
		want    string
		wantErr bool
	}{
		"bare jwt":          {body: "eyJhbGciOi.payload.sig", want: "eyJhbGciOi.payload.sig"},
		"json string":       {body: `"eyJhbGciOi.payload.sig"`, want: "eyJhbGciOi.payload.sig"},
		"token object":      {body: `{"access_token":"eyJhbGciOi.payload.sig"}`, want: "eyJhbGciOi.payload.sig"},
		"object sans token": {body: `{"token_type":"Bearer"}`, wantErr: true},
		"empty body":        {body: ``, wantErr: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var gotEmail, gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotEmail = r.Header.Get("X-User-Email")
				gotPath = r.URL.Path
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			m := broker.NewTestingSupportMinter(srv.URL, upstream.NewClient(), zerolog.Nop())
			tok, err := m.Mint(context.Background(), " opal-test@example.com ")
			require.Equal(t, "opal-test@example.com", gotEmail)
			require.Equal(t, "/testing-support/token/user", gotPath)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, tok.AccessToken)
		})
	}
}

func TestTestingSupportMinter_Errors(t *testing.T) {
	m := broker.NewTestingSupportMinter("http://127.0.0.1:0", upstream.NewClient(), zerolog.Nop())
	_, err := m.Mint(context.Background(), "  ")
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err = broker.NewTestingSupportMinter(srv.URL, upstream.NewClient(), zerolog.Nop()).Mint(context.Background(), "a@b.c")
	require.ErrorContains(t, err, "status 403")
}
