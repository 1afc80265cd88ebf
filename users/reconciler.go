package users

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog"
)

const (
	DefaultLookupPath = "/users/0/state"
	DefaultCreatePath = "/users"
	DefaultUpdatePath = "/users"
)

// ReconciliationStatus is the outcome class of a directory lookup.
type ReconciliationStatus int

const (
	StatusFound ReconciliationStatus = iota
	StatusNotFound
	StatusConflict
	StatusFailed
)

func (s ReconciliationStatus) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// ReconciliationResult is produced and consumed inside a single Reconcile call.
type ReconciliationResult struct {
	Status  ReconciliationStatus
	UserID  string
	Version string
	err     error
}

// ReconcilerConfig locates the user directory endpoints.
type ReconcilerConfig struct {
	BaseURL    string
	LookupPath string
	CreatePath string
	UpdatePath string
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.LookupPath == "" {
		c.LookupPath = DefaultLookupPath
	}
	if c.CreatePath == "" {
		c.CreatePath = DefaultCreatePath
	}
	if c.UpdatePath == "" {
		c.UpdatePath = DefaultUpdatePath
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Reconciler makes sure the user directory holds a record for the token's user.
type Reconciler struct {
	cfg    ReconcilerConfig
	client *upstream.Client
	logger zerolog.Logger
}

func NewReconciler(cfg ReconcilerConfig, client *upstream.Client, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logger.With().Str("component", "user_reconciler").Logger(),
	}
}

// Reconcile looks the user up and creates or updates the record when needed.
// A nil return means the caller may proceed; any error means access is denied.
//
//	200 -> proceed
//	404 -> POST create, proceed on 200/201
//	409 -> PUT {update}/{user_id} with If-Match: {version}, proceed on 200/204
//
// Anything else denies. There is no status re-check after a create or update.
func (r *Reconciler) Reconcile(ctx context.Context, accessToken string) error {
	err := r.reconcile(ctx, accessToken)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("code", apperrors.Code(err)).
			Str("correlation_id", upstream.CorrelationID(ctx)).
			Msg("user reconciliation denied")
	}
	return err
}

func (r *Reconciler) reconcile(ctx context.Context, accessToken string) error {
	lookup := r.lookup(ctx, accessToken)
	switch lookup.Status {
	case StatusFound:
		r.logger.Info().Msg("user exists")
		return nil

	case StatusNotFound:
		r.logger.Info().Msg("user not found, creating")
		res := r.client.Do(ctx, upstream.Request{
			Method:      http.MethodPost,
			URL:         r.cfg.BaseURL + r.cfg.CreatePath,
			BearerToken: accessToken,
			JSON:        struct{}{},
		})
		if !res.OK() || (res.Status != http.StatusOK && res.Status != http.StatusCreated) {
			return apperrors.Wrapf(apperrors.ErrUserCreateFailed, "create user: %s", describe(res))
		}
		r.logger.Info().Msg("user created")
		return nil

	case StatusConflict:
		if lookup.err != nil {
			return lookup.err
		}
		r.logger.Info().Str("user_id", lookup.UserID).Msg("user conflict, updating")
		res := r.client.Do(ctx, upstream.Request{
			Method:      http.MethodPut,
			URL:         r.cfg.BaseURL + strings.TrimRight(r.cfg.UpdatePath, "/") + "/" + url.PathEscape(lookup.UserID),
			BearerToken: accessToken,
			Header:      http.Header{"If-Match": []string{lookup.Version}},
			JSON:        struct{}{},
		})
		if !res.OK() || (res.Status != http.StatusOK && res.Status != http.StatusNoContent) {
			return apperrors.Wrapf(apperrors.ErrUserUpdateFailed, "update user %s: %s", lookup.UserID, describe(res))
		}
		r.logger.Info().Str("user_id", lookup.UserID).Msg("user updated")
		return nil

	default:
		return lookup.err
	}
}

func (r *Reconciler) lookup(ctx context.Context, accessToken string) ReconciliationResult {
	res := r.client.Do(ctx, upstream.Request{
		Method:      http.MethodGet,
		URL:         r.cfg.BaseURL + r.cfg.LookupPath,
		BearerToken: accessToken,
	})

	switch {
	case res.OK() && res.Status == http.StatusOK:
		return ReconciliationResult{Status: StatusFound}
	case res.Kind == upstream.KindHTTPError && res.Status == http.StatusNotFound:
		return ReconciliationResult{Status: StatusNotFound}
	case res.Kind == upstream.KindHTTPError && res.Status == http.StatusConflict:
		return conflictResult(res)
	default:
		return ReconciliationResult{
			Status: StatusFailed,
			err:    apperrors.Wrapf(apperrors.ErrUserLookupFailed, "lookup user: %s", describe(res)),
		}
	}
}

// conflictResult extracts user_id and version from a 409 lookup response.
// The version may come from the body or the ETag header; if both are present
// they must agree.
func conflictResult(res upstream.Result) ReconciliationResult {
	result := ReconciliationResult{Status: StatusConflict}

	var body struct {
		UserID  Scalar `json:"user_id"`
		Version Scalar `json:"version"`
	}
	// A missing or non-JSON body simply carries no fields.
	_ = res.DecodeJSON(&body)
	result.UserID = string(body.UserID)

	bodyVersion := string(body.Version)
	etagVersion := normaliseETag(res.Header.Get("ETag"))
	switch {
	case bodyVersion != "" && etagVersion != "" && bodyVersion != etagVersion:
		result.err = apperrors.Wrapf(apperrors.ErrAmbiguousConcurrencyToken, "body version %q, etag %q", bodyVersion, etagVersion)
		return result
	case bodyVersion != "":
		result.Version = bodyVersion
	default:
		result.Version = etagVersion
	}

	if result.UserID == "" || result.Version == "" {
		result.err = apperrors.Wrapf(apperrors.ErrMissingConcurrencyToken, "conflict response user_id=%t version=%t", result.UserID != "", result.Version != "")
	}
	return result
}

func normaliseETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

func describe(res upstream.Result) string {
	if res.Kind == upstream.KindNetworkError {
		return fmt.Sprintf("%s: %v", res.Kind, res.Err)
	}
	return fmt.Sprintf("status %d", res.Status)
}
