package proxy

import (
	"fmt"
	"net/http"

	"github.com/jrsteele09/sso-gateway/digest"
	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
)

// ResponseStage inspects or rewrites a buffered upstream response.
type ResponseStage interface {
	// Applies reports whether the response must be buffered for this stage.
	Applies(resp *http.Response) bool
	// Transform returns the body to send on. Returning a *Reject replaces the
	// whole response with the rejection.
	Transform(resp *http.Response, body []byte) ([]byte, error)
}

// Reject is an upstream response, or a request, the gateway refuses to pass on.
type Reject struct {
	Status  int
	Message string
	Err     error
}

func (r *Reject) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%d %s: %v", r.Status, r.Message, r.Err)
	}
	return fmt.Sprintf("%d %s", r.Status, r.Message)
}

func (r *Reject) Unwrap() error {
	return r.Err
}

// DigestStage verifies the Content-Digest of text and JSON responses.
type DigestStage struct{}

// HEAD responses carry the digest of the GET representation with no body, so
// they are not checked.
func (DigestStage) Applies(resp *http.Response) bool {
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return false
	}
	return resp.Header.Get(digest.HeaderContentDigest) != "" &&
		digest.IsVerifiableContentType(resp.Header.Get("Content-Type"))
}

func (DigestStage) Transform(resp *http.Response, body []byte) ([]byte, error) {
	token, err := digest.Parse(resp.Header.Get(digest.HeaderContentDigest))
	if err != nil {
		return nil, &Reject{
			Status:  http.StatusBadGateway,
			Message: "Upstream Content-Digest header malformed",
			Err:     fmt.Errorf("%w: %w", apperrors.ErrUpstreamDigestMismatch, err),
		}
	}
	if err := digest.Verify(body, token); err != nil {
		return nil, &Reject{
			Status:  http.StatusBadGateway,
			Message: "Upstream Content-Digest verification failed",
			Err:     apperrors.ErrUpstreamDigestMismatch,
		}
	}
	return body, nil
}
