package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/sso-gateway/token"
	"golang.org/x/oauth2"
)

// OAuth2Exchanger exchanges codes against an OAuth2 token endpoint. When a
// verifier is configured the ID token is verified against the provider's keys;
// otherwise its claims are decoded as-is.
type OAuth2Exchanger struct {
	config     oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewOAuth2Exchanger uses fixed endpoints. verifier may be nil.
func NewOAuth2Exchanger(config oauth2.Config, verifier *oidc.IDTokenVerifier, httpClient *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{config: config, verifier: verifier, httpClient: httpClient}
}

// DiscoverOAuth2Exchanger reads the provider's endpoints and signing keys from
// its discovery document at issuer.
func DiscoverOAuth2Exchanger(ctx context.Context, issuer, clientID, clientSecret string, httpClient *http.Client) (*OAuth2Exchanger, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &OAuth2Exchanger{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: clientID}),
		httpClient: httpClient,
	}, nil
}

// Config returns a copy of the OAuth2 client configuration.
func (e *OAuth2Exchanger) Config() oauth2.Config {
	return e.config
}

// ExchangeCode performs one exchange. Provider errors come back as *ProviderError.
func (e *OAuth2Exchanger) ExchangeCode(ctx context.Context, code, redirectURI string, scopes []string) (*ExchangeResult, error) {
	cfg := e.config
	cfg.RedirectURL = redirectURI
	cfg.Scopes = scopes

	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}

	var opts []oauth2.AuthCodeOption
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	}
	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, providerError(err)
	}

	result := &ExchangeResult{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return result, nil
	}

	if e.verifier != nil {
		idToken, err := e.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("verifying id token: %w", err)
		}
		claims := map[string]any{}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("extracting id token claims: %w", err)
		}
		result.IDTokenClaims = claims
		return result, nil
	}

	claims, err := token.Claims(rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("decoding id token: %w", err)
	}
	result.IDTokenClaims = claims
	return result, nil
}

// providerError lifts an *oauth2.RetrieveError into a *ProviderError. Transport
// failures are returned unchanged so the network classification still applies.
func providerError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	pe := &ProviderError{Code: re.ErrorCode, Err: err}
	if re.Response != nil {
		pe.Status = re.Response.StatusCode
	}
	var body struct {
		Error         string `json:"error"`
		CorrelationID string `json:"correlation_id"`
	}
	if json.Unmarshal(re.Body, &body) == nil {
		pe.CorrelationID = body.CorrelationID
		if pe.Code == "" {
			pe.Code = body.Error
		}
	}
	return pe
}
