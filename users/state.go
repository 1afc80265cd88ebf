package users

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/upstream"
	"github.com/rs/zerolog"
)

const defaultStateErrorCode = "user_state_fetch_failed"

// StateError is a failed user state fetch, carrying what the caller should
// relay to the browser.
type StateError struct {
	Status  int
	Code    string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("user state fetch failed (%d %s): %s", e.Status, e.Code, e.Message)
}

func (e *StateError) Unwrap() error {
	return apperrors.ErrUserLookupFailed
}

// StateFetcher reads the signed-in user's state from the user directory.
type StateFetcher struct {
	url    string
	client *upstream.Client
	logger zerolog.Logger
}

func NewStateFetcher(baseURL string, client *upstream.Client, logger zerolog.Logger) *StateFetcher {
	return &StateFetcher{
		url:    strings.TrimRight(baseURL, "/") + DefaultLookupPath,
		client: client,
		logger: logger.With().Str("component", "user_state").Logger(),
	}
}

// Fetch returns the user state for accessToken. Failures are *StateError values:
// the upstream status is passed through, transport failures become 502.
func (f *StateFetcher) Fetch(ctx context.Context, accessToken string) (*UserState, error) {
	res := f.client.Do(ctx, upstream.Request{
		Method:      http.MethodGet,
		URL:         f.url,
		BearerToken: accessToken,
	})

	switch res.Kind {
	case upstream.KindOK:
		var state UserState
		if err := res.DecodeJSON(&state); err != nil {
			return nil, f.fail(ctx, &StateError{Status: http.StatusBadGateway, Code: defaultStateErrorCode, Message: "Invalid user state payload"})
		}
		return &state, nil

	case upstream.KindHTTPError:
		stateErr := &StateError{Status: res.Status, Code: defaultStateErrorCode, Message: http.StatusText(res.Status)}
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(res.Body, &body) == nil {
			if body.Error != "" {
				stateErr.Code = body.Error
			}
			if body.Message != "" {
				stateErr.Message = body.Message
			}
		}
		return nil, f.fail(ctx, stateErr)

	default:
		return nil, f.fail(ctx, &StateError{
			Status:  http.StatusBadGateway,
			Code:    defaultStateErrorCode,
			Message: "Unable to fetch user state from user service",
		})
	}
}

func (f *StateFetcher) fail(ctx context.Context, err *StateError) error {
	f.logger.Error().
		Err(err).
		Str("correlation_id", upstream.CorrelationID(ctx)).
		Msg("fetch user state")
	return err
}
