package login_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/login"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	token *sessions.SecurityToken
	err   error

	gotCode, gotRedirect string
	gotScopes            []string
}

func (f *fakeExchanger) Exchange(_ context.Context, code, redirectURI string, scopes []string) (*sessions.SecurityToken, error) {
	f.gotCode, f.gotRedirect, f.gotScopes = code, redirectURI, scopes
	return f.token, f.err
}

type fakeReconciler struct {
	err      error
	gotToken string
}

func (f *fakeReconciler) Reconcile(_ context.Context, accessToken string) error {
	f.gotToken = accessToken
	return f.err
}

type fixture struct {
	exchanger  *fakeExchanger
	reconciler *fakeReconciler
	store      *sessions.MemoryStore
	pipeline   *login.Pipeline
}

func setupFixture() *fixture {
	f := &fixture{
		exchanger:  &fakeExchanger{token: &sessions.SecurityToken{AccessToken: "access-token"}},
		reconciler: &fakeReconciler{},
		store:      sessions.NewMemoryStore(),
	}
	f.pipeline = login.New(login.Config{
		RedirectURI: "http://localhost:4200/sso/login-callback",
		Scopes:      []string{"api://client/opalinternaluser"},
		SessionTTL:  time.Hour,
	}, f.exchanger, f.reconciler, f.store, zerolog.Nop())
	return f
}

func jwtWithExpiry(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return raw
}

func TestPipeline_LogsTokenSubject(t *testing.T) {
	var logs bytes.Buffer
	f := setupFixture()
	f.exchanger.token = &sessions.SecurityToken{AccessToken: jwtWithExpiry(t, time.Now().Add(time.Hour))}
	pipeline := login.New(login.Config{SessionTTL: time.Hour}, f.exchanger, f.reconciler, f.store, zerolog.New(&logs))

	_, err := pipeline.Complete(context.Background(), "auth-code")
	require.NoError(t, err)
	require.Contains(t, logs.String(), `"subject":"user-1"`)
	require.Contains(t, logs.String(), `"message":"session established"`)
	require.NotContains(t, logs.String(), f.exchanger.token.AccessToken)
}

func TestPipeline_Complete(t *testing.T) {
	t.Run("success stores a session", func(t *testing.T) {
		f := setupFixture()
		sess, err := f.pipeline.Complete(context.Background(), "auth-code")
		require.NoError(t, err)

		require.Equal(t, "auth-code", f.exchanger.gotCode)
		require.Equal(t, "http://localhost:4200/sso/login-callback", f.exchanger.gotRedirect)
		require.Equal(t, []string{"api://client/opalinternaluser"}, f.exchanger.gotScopes)
		require.Equal(t, "access-token", f.reconciler.gotToken)

		require.NotEmpty(t, sess.ID)
		require.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

		stored, err := f.store.Get(context.Background(), sess.ID)
		require.NoError(t, err)
		require.Equal(t, "access-token", stored.AccessToken())
	})

	t.Run("exchange failure writes nothing", func(t *testing.T) {
		f := setupFixture()
		f.exchanger.err = apperrors.ErrAuthExchangeFailure

		sess, err := f.pipeline.Complete(context.Background(), "auth-code")
		require.ErrorIs(t, err, apperrors.ErrAuthExchangeFailure)
		require.Nil(t, sess)
		require.Empty(t, f.reconciler.gotToken)
	})

	t.Run("reconciliation denial is a validation failure", func(t *testing.T) {
		f := setupFixture()
		f.reconciler.err = apperrors.ErrUserCreateFailed

		sess, err := f.pipeline.Complete(context.Background(), "auth-code")
		require.ErrorIs(t, err, apperrors.ErrUserValidationFailed)
		require.ErrorIs(t, err, apperrors.ErrUserCreateFailed)
		require.Nil(t, sess)
	})

	t.Run("previous session is replaced", func(t *testing.T) {
		f := setupFixture()
		old := &sessions.Session{ID: "old", Token: &sessions.SecurityToken{AccessToken: "old-token"}}
		require.NoError(t, f.store.Set(context.Background(), old.ID, old))

		ctx := sessions.NewContext(context.Background(), old)
		sess, err := f.pipeline.Complete(ctx, "auth-code")
		require.NoError(t, err)
		require.NotEqual(t, "old", sess.ID)

		_, err = f.store.Get(context.Background(), "old")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})
}

type failingStore struct{ sessions.Store }

func (failingStore) Set(context.Context, string, *sessions.Session) error {
	return errors.New("disk full")
}

func TestPipeline_StoreFailure(t *testing.T) {
	p := login.New(login.Config{}, &fakeExchanger{token: &sessions.SecurityToken{AccessToken: "tok"}},
		&fakeReconciler{}, failingStore{}, zerolog.Nop())

	_, err := p.Complete(context.Background(), "auth-code")
	require.ErrorContains(t, err, "storing session: disk full")
}

func TestPipeline_AdoptAndLogout(t *testing.T) {
	f := setupFixture()

	_, err := f.pipeline.Adopt(context.Background(), &sessions.SecurityToken{})
	require.ErrorIs(t, err, apperrors.ErrInvalidTokenResponse)

	sess, err := f.pipeline.Adopt(context.Background(), &sessions.SecurityToken{AccessToken: "minted"})
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Logout(context.Background(), sess.ID))
	_, err = f.store.Get(context.Background(), sess.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	require.NoError(t, f.pipeline.Logout(context.Background(), sess.ID))
	require.NoError(t, f.pipeline.Logout(context.Background(), ""))
}

func TestAuthenticated(t *testing.T) {
	cases := map[string]struct {
		sess *sessions.Session
		want bool
	}{
		"nil session":   {sess: nil, want: false},
		"no token":      {sess: &sessions.Session{ID: "s"}, want: false},
		"garbage token": {sess: &sessions.Session{Token: &sessions.SecurityToken{AccessToken: "nope"}}, want: false},
		"expired":       {sess: &sessions.Session{Token: &sessions.SecurityToken{AccessToken: jwtWithExpiry(t, time.Now().Add(-time.Minute))}}, want: false},
		"valid":         {sess: &sessions.Session{Token: &sessions.SecurityToken{AccessToken: jwtWithExpiry(t, time.Now().Add(time.Hour))}}, want: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, login.Authenticated(tc.sess))
		})
	}
}
