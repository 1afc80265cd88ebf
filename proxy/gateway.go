// Package proxy forwards browser API calls to an upstream service, injecting the
// session's bearer token and checking Content-Digest on both halves of the hop.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/sso-gateway/digest"
	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// DefaultMaxBodyBytes bounds buffered request and response bodies.
const DefaultMaxBodyBytes int64 = 10 << 20

const (
	msgMissingDigest       = "Missing or invalid Content-Digest"
	msgDigestMismatch      = "Content-Digest verification failed"
	msgBodyTooLarge        = "Request body too large"
	msgUpstreamUnavailable = "Upstream unavailable"
	msgUpstreamTooLarge    = "Upstream response too large"
)

// Config holds configuration for a Gateway.
type Config struct {
	// Name identifies the route in logs.
	Name string

	// Target is the upstream base URL. Its path is prefixed to every forwarded path.
	Target string

	// VerifyDigests enables the inbound Content-Digest check and the response
	// stages. When false the gateway only injects the bearer token.
	VerifyDigests bool

	// MaxBodyBytes bounds buffered bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Transport overrides the upstream transport.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// Gateway is an http.Handler for one upstream route.
type Gateway struct {
	name    string
	target  *url.URL
	verify  bool
	maxBody int64
	stages  []ResponseStage
	client  *http.Client
	logger  zerolog.Logger
}

// New creates a Gateway. Digest-verifying gateways get a DigestStage.
func New(cfg Config) (*Gateway, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("route name is required")
	}
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host are required", cfg.Target)
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	transport := cfg.Transport
	if transport == nil {
		// Compression stays off so response digests are checked against
		// the bytes the upstream actually sent.
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
		}
	}

	g := &Gateway{
		name:    cfg.Name,
		target:  target,
		verify:  cfg.VerifyDigests,
		maxBody: maxBody,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: cfg.Logger.With().Str("component", "proxy").Str("route", cfg.Name).Logger(),
	}
	if g.verify {
		g.stages = append(g.stages, DigestStage{})
	}
	return g, nil
}

// Name returns the route name.
func (g *Gateway) Name() string {
	return g.name
}

// Use appends response stages. They run in order on buffered responses.
func (g *Gateway) Use(stages ...ResponseStage) {
	g.stages = append(g.stages, stages...)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	logger := g.requestLogger(r)

	var body io.Reader = r.Body
	contentLength := r.ContentLength
	if g.verify {
		buffered, reject := g.verifyRequestBody(w, r)
		if reject != nil {
			logger.Warn().
				Err(reject).
				Int("status", reject.Status).
				Str("code", rejectCode(reject)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("request rejected before upstream")
			writePlain(w, reject.Status, reject.Message)
			return
		}
		if buffered != nil {
			body = bytes.NewReader(buffered)
			contentLength = int64(len(buffered))
		}
	}

	upstreamURL := *g.target
	upstreamURL.Path, upstreamURL.RawPath = joinURLPath(g.target, r.URL)
	upstreamURL.RawQuery = r.URL.RawQuery

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		body = nil
		contentLength = 0
	}
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create upstream request")
		writePlain(w, http.StatusInternalServerError, "failed to create request")
		return
	}
	upstreamReq.ContentLength = contentLength
	g.copyRequestHeaders(upstreamReq, r)

	resp, err := g.client.Do(upstreamReq)
	if err != nil {
		logger.Error().
			Err(err).
			Str("code", apperrors.Code(apperrors.ErrUpstreamUnavailable)).
			Str("upstream", upstreamURL.Redacted()).
			Dur("duration", time.Since(startTime)).
			Msg("upstream request failed")
		writePlain(w, http.StatusBadGateway, msgUpstreamUnavailable)
		return
	}
	defer resp.Body.Close()

	stages := g.applicableStages(resp)
	if len(stages) == 0 {
		copyResponseHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		n, _ := io.Copy(w, resp.Body)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.StatusCode).
			Int64("bytes", n).
			Dur("duration", time.Since(startTime)).
			Msg("proxy complete")
		return
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		logger.Error().Err(err).Msg("reading upstream response")
		writeRejection(w, &Reject{Status: http.StatusBadGateway, Message: msgUpstreamUnavailable, Err: apperrors.ErrUpstreamUnavailable})
		return
	}
	if int64(len(respBody)) > g.maxBody {
		writeRejection(w, &Reject{Status: http.StatusBadGateway, Message: msgUpstreamTooLarge})
		return
	}

	for _, stage := range stages {
		respBody, err = stage.Transform(resp, respBody)
		if err != nil {
			var reject *Reject
			if !errors.As(err, &reject) {
				reject = &Reject{Status: http.StatusBadGateway, Message: "Bad gateway", Err: err}
			}
			logger.Error().
				Err(reject).
				Str("code", rejectCode(reject)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("upstream_status", resp.StatusCode).
				Msg("upstream response rejected")
			writeRejection(w, reject)
			return
		}
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(respBody)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// verifyRequestBody buffers the request body and checks its digest. A non-nil
// Reject means the request must not be forwarded.
func (g *Gateway) verifyRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, *Reject) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &Reject{Status: http.StatusRequestEntityTooLarge, Message: msgBodyTooLarge, Err: err}
		}
		return nil, &Reject{Status: http.StatusBadRequest, Message: "Unable to read request body", Err: err}
	}
	if len(body) == 0 {
		return body, nil
	}

	if err := digest.VerifyHeader(body, r.Header.Get(digest.HeaderContentDigest)); err != nil {
		if errors.Is(err, apperrors.ErrDigestMismatch) {
			return nil, &Reject{Status: http.StatusBadRequest, Message: msgDigestMismatch, Err: err}
		}
		return nil, &Reject{Status: http.StatusBadRequest, Message: msgMissingDigest, Err: err}
	}
	return body, nil
}

func (g *Gateway) copyRequestHeaders(dst, src *http.Request) {
	for key, values := range src.Header {
		if isHopByHopHeader(key) || strings.EqualFold(key, "Authorization") {
			continue
		}
		for _, value := range values {
			dst.Header.Add(key, value)
		}
	}
	dst.Host = g.target.Host

	if token := sessions.FromContext(src.Context()).AccessToken(); token != "" {
		dst.Header.Set("Authorization", "Bearer "+token)
	}
	if g.verify {
		dst.Header.Set(digest.HeaderWantContentDigest, digest.Algorithm)
	}
}

func (g *Gateway) applicableStages(resp *http.Response) []ResponseStage {
	var out []ResponseStage
	for _, stage := range g.stages {
		if stage.Applies(resp) {
			out = append(out, stage)
		}
	}
	return out
}

func (g *Gateway) requestLogger(r *http.Request) zerolog.Logger {
	l := hlog.FromRequest(r)
	if l.GetLevel() == zerolog.Disabled {
		return g.logger
	}
	return l.With().Str("component", "proxy").Str("route", g.name).Logger()
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func writePlain(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// writeRejection replaces the upstream response entirely: no upstream headers,
// no upstream body, never cached.
func writeRejection(w http.ResponseWriter, reject *Reject) {
	w.Header().Del(digest.HeaderContentDigest)
	w.Header().Set("Cache-Control", "no-store")
	writePlain(w, reject.Status, reject.Message)
}

func rejectCode(reject *Reject) string {
	if reject.Status == http.StatusRequestEntityTooLarge {
		return "BodyTooLarge"
	}
	return apperrors.Code(reject)
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case b == "":
		return a
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}

// joinURLPath joins the target and request paths, keeping the request's
// escaping so encoded reserved characters such as %2F reach upstream intact.
func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}
	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}
