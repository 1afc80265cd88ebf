package config

import (
	"fmt"
	"strings"
)

type SsoConfig interface {
	GetSsoEnabled() bool
	GetClientID() string
	GetClientSecret() string
	GetTenantID() string
	GetAuthorityURL() string
	GetIssuerURL() string
	GetLogoutURL() string
	GetScopes() []string
	GetSsoPaths() SsoPaths
}

// SsoPaths are the browser-facing SSO routes.
type SsoPaths struct {
	Login          string
	LoginCallback  string
	Logout         string
	LogoutCallback string
	Authenticated  string
}

type Sso struct {
	src *source
}

var _ SsoConfig = Sso{}

func (s Sso) GetSsoEnabled() bool {
	return s.src.getBool("SSO_ENABLED", true)
}

func (s Sso) GetClientID() string {
	return s.src.get("AZURE_CLIENT_ID", "")
}

func (s Sso) GetClientSecret() string {
	return s.src.get("AZURE_CLIENT_SECRET", "")
}

func (s Sso) GetTenantID() string {
	return s.src.get("AZURE_TENANT_ID", "")
}

// GetAuthorityURL is the identity provider base URL; the tenant id is appended to it.
func (s Sso) GetAuthorityURL() string {
	return s.src.get("MICROSOFT_URL", "https://login.microsoftonline.com/")
}

// GetIssuerURL returns the OIDC issuer used for discovery.
func (s Sso) GetIssuerURL() string {
	if issuer := s.src.get("SSO_ISSUER_URL", ""); issuer != "" {
		return issuer
	}
	return strings.TrimRight(s.GetAuthorityURL(), "/") + "/" + s.GetTenantID() + "/v2.0"
}

func (s Sso) GetLogoutURL() string {
	if logout := s.src.get("SSO_LOGOUT_URL", ""); logout != "" {
		return logout
	}
	return strings.TrimRight(s.GetAuthorityURL(), "/") + "/" + s.GetTenantID() + "/oauth2/v2.0/logout"
}

func (s Sso) GetScopes() []string {
	return s.src.getList("SSO_SCOPES", fmt.Sprintf("api://%s/opalinternaluser", s.GetClientID()))
}

func (s Sso) GetSsoPaths() SsoPaths {
	return SsoPaths{
		Login:          s.src.get("SSO_LOGIN_PATH", "/sso/login"),
		LoginCallback:  s.src.get("SSO_LOGIN_CALLBACK_PATH", "/sso/login-callback"),
		Logout:         s.src.get("SSO_LOGOUT_PATH", "/sso/logout"),
		LogoutCallback: s.src.get("SSO_LOGOUT_CALLBACK_PATH", "/sso/logout-callback"),
		Authenticated:  s.src.get("SSO_AUTHENTICATED_PATH", "/sso/authenticated"),
	}
}

func (s Sso) validate() error {
	if !s.GetSsoEnabled() {
		return nil
	}
	if err := requireValue("AZURE_CLIENT_ID", s.GetClientID()); err != nil {
		return err
	}
	if err := requireValue("AZURE_CLIENT_SECRET", s.GetClientSecret()); err != nil {
		return err
	}
	if s.src.get("SSO_ISSUER_URL", "") == "" {
		return requireValue("AZURE_TENANT_ID", s.GetTenantID())
	}
	return nil
}
