package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog"
)

const testingSupportTokenPath = "/testing-support/token/user"

// TestingSupportMinter obtains tokens from the API's testing-support endpoint
// instead of an identity provider. Only used when SSO is disabled.
type TestingSupportMinter struct {
	url    string
	client *upstream.Client
	logger zerolog.Logger
}

func NewTestingSupportMinter(apiBaseURL string, client *upstream.Client, logger zerolog.Logger) *TestingSupportMinter {
	return &TestingSupportMinter{
		url:    strings.TrimRight(apiBaseURL, "/") + testingSupportTokenPath,
		client: client,
		logger: logger.With().Str("component", "testing_support_minter").Logger(),
	}
}

// Mint asks testing-support for a token for email. The response is either a
// bare JWT or an object with an access_token field.
func (m *TestingSupportMinter) Mint(ctx context.Context, email string) (*sessions.SecurityToken, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("no email provided on login callback")
	}

	res := m.client.Do(ctx, upstream.Request{
		Method: http.MethodGet,
		URL:    m.url,
		Header: http.Header{"X-User-Email": []string{email}},
	})
	switch res.Kind {
	case upstream.KindNetworkError:
		return nil, fmt.Errorf("token minting failed: %w", res.Err)
	case upstream.KindHTTPError:
		return nil, fmt.Errorf("token minting failed: status %d", res.Status)
	}

	accessToken := parseMintedToken(res.Body)
	if accessToken == "" {
		m.logger.Error().Int("body_bytes", len(res.Body)).Msg("token minting failed: missing access_token")
		return nil, errors.New("token minting failed: missing access_token")
	}
	return &sessions.SecurityToken{AccessToken: accessToken}, nil
}

func parseMintedToken(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	switch body[0] {
	case '{':
		var obj struct {
			AccessToken string `json:"access_token"`
		}
		if json.Unmarshal(body, &obj) != nil {
			return ""
		}
		return obj.AccessToken
	case '"':
		var s string
		if json.Unmarshal(body, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	default:
		return string(body)
	}
}
