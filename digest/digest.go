// Package digest computes and checks RFC 9530 style Content-Digest values.
//
// Only the sha-256 algorithm is supported. A header value has the form
//
//	sha-256=:<base64 of the SHA-256 digest>:
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"mime"
	"regexp"
	"strings"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
)

const (
	// Algorithm is the only digest algorithm produced and accepted.
	Algorithm = "sha-256"

	HeaderContentDigest     = "Content-Digest"
	HeaderWantContentDigest = "Want-Content-Digest"
)

var sha256Pattern = regexp.MustCompile(`(?i)sha-256=:(.+?):`)

// Token is a parsed digest value.
type Token struct {
	Algorithm string
	Value     string // base64 encoded digest bytes
}

// String serializes the token in header form.
func (t Token) String() string {
	return fmt.Sprintf("%s=:%s:", Algorithm, t.Value)
}

// Compute returns the sha-256 digest token for body.
func Compute(body []byte) Token {
	sum := sha256.Sum256(body)
	return Token{Algorithm: Algorithm, Value: base64.StdEncoding.EncodeToString(sum[:])}
}

// Header returns the Content-Digest header value for body.
func Header(body []byte) string {
	return Compute(body).String()
}

// Parse extracts the sha-256 token from a Content-Digest header value.
// The value between the colons must be valid base64 of a 32 byte digest.
func Parse(header string) (Token, error) {
	match := sha256Pattern.FindStringSubmatch(header)
	if match == nil {
		return Token{}, apperrors.ErrMissingOrInvalidDigest
	}
	raw, err := base64.StdEncoding.DecodeString(match[1])
	if err != nil || len(raw) != sha256.Size {
		return Token{}, apperrors.ErrMissingOrInvalidDigest
	}
	return Token{Algorithm: Algorithm, Value: match[1]}, nil
}

// Verify checks body against an expected token.
// The comparison is a plain string comparison of the base64 encodings.
func Verify(body []byte, expected Token) error {
	if Compute(body).Value != expected.Value {
		return apperrors.ErrDigestMismatch
	}
	return nil
}

// VerifyHeader parses header and verifies body against it.
func VerifyHeader(body []byte, header string) error {
	token, err := Parse(header)
	if err != nil {
		return err
	}
	return Verify(body, token)
}

// IsVerifiableContentType reports whether responses of this media type are digest checked:
// text/*, application/json and application/*+json.
func IsVerifiableContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	mediaType = strings.ToLower(mediaType)

	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json":
		return true
	default:
		return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
	}
}
