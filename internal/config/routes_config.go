package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type RoutesConfig interface {
	GetFrontendHostname() string
	GetApiTarget() string
	GetUserServiceTarget() string
	GetUserPaths() UserPaths
}

type ProxyConfig interface {
	GetProxyRoutes() ([]ProxyRoute, error)
	GetProxyMaxBodyBytes() int64
}

type ExpiryConfig interface {
	GetExpiryTestMode() bool
	GetExpiryTime() time.Duration
	GetExpiryWarningThreshold() time.Duration
}

// UserPaths locate the user directory endpoints on the user service.
type UserPaths struct {
	Lookup string
	Create string
	Update string
}

// ProxyRoute mounts an upstream under a path prefix.
type ProxyRoute struct {
	Prefix        string
	Target        string
	VerifyDigests bool
}

type Routes struct {
	src *source
}

var _ RoutesConfig = Routes{}

func (r Routes) GetFrontendHostname() string {
	return strings.TrimRight(r.src.get("FRONTEND_HOSTNAME", "http://localhost:4200"), "/")
}

func (r Routes) GetApiTarget() string {
	return strings.TrimRight(r.src.get("OPAL_API_URL", "http://localhost:4550"), "/")
}

func (r Routes) GetUserServiceTarget() string {
	return strings.TrimRight(r.src.get("OPAL_USER_SERVICE_BASE_URL", "http://localhost:4555"), "/")
}

func (r Routes) GetUserPaths() UserPaths {
	return UserPaths{
		Lookup: r.src.get("USER_LOOKUP_PATH", "/users/0/state"),
		Create: r.src.get("USER_CREATE_PATH", "/users"),
		Update: r.src.get("USER_UPDATE_PATH", "/users"),
	}
}

type Proxy struct {
	src *source
}

var _ ProxyConfig = Proxy{}

const defaultProxyRoutes = "/api=http://localhost:4550"

// GetProxyRoutes parses PROXY_ROUTES, a comma separated list of prefix=target
// entries. A target suffixed with "|plain" is forwarded without digest checks.
func (p Proxy) GetProxyRoutes() ([]ProxyRoute, error) {
	return ParseProxyRoutes(p.src.get("PROXY_ROUTES", defaultProxyRoutes), p.src.getBool("PROXY_VERIFY_DIGESTS", true))
}

func (p Proxy) GetProxyMaxBodyBytes() int64 {
	return p.src.getInt64("PROXY_MAX_BODY_BYTES", 10<<20)
}

func ParseProxyRoutes(raw string, verify bool) ([]ProxyRoute, error) {
	var routes []ProxyRoute
	seen := map[string]bool{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, target, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("proxy route %q: expected prefix=target", entry)
		}
		route := ProxyRoute{Prefix: strings.TrimSpace(prefix), VerifyDigests: verify}
		target, mode, _ := strings.Cut(strings.TrimSpace(target), "|")
		switch mode {
		case "":
		case "plain":
			route.VerifyDigests = false
		case "verify":
			route.VerifyDigests = true
		default:
			return nil, fmt.Errorf("proxy route %q: unknown mode %q", entry, mode)
		}
		route.Target = target

		if !strings.HasPrefix(route.Prefix, "/") || route.Prefix == "/" {
			return nil, fmt.Errorf("proxy route %q: prefix must start with / and not be the root", entry)
		}
		route.Prefix = strings.TrimRight(route.Prefix, "/")
		u, err := url.Parse(route.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy route %q: invalid target", entry)
		}
		if seen[route.Prefix] {
			return nil, fmt.Errorf("proxy route %q: duplicate prefix", entry)
		}
		seen[route.Prefix] = true
		routes = append(routes, route)
	}
	return routes, nil
}

type Expiry struct {
	src *source
}

var _ ExpiryConfig = Expiry{}

// GetExpiryTestMode makes /session/expiry report now + GetExpiryTime instead of the token's exp.
func (e Expiry) GetExpiryTestMode() bool {
	return e.src.getBool("EXPIRY_TEST_MODE", false)
}

func (e Expiry) GetExpiryTime() time.Duration {
	return e.src.getMillis("EXPIRY_TIME_IN_MILLISECONDS", 10*time.Minute)
}

func (e Expiry) GetExpiryWarningThreshold() time.Duration {
	return e.src.getMillis("EXPIRY_WARNING_THRESHOLD_IN_MILLISECONDS", 5*time.Minute)
}
