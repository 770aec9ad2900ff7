package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested resource does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, expired or rejected token (HTTP 401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest indicates the service rejected the request (HTTP 400/422),
	// e.g. "A training job is already running for this bot".
	ErrBadRequest = errors.New("request rejected")

	// ErrInvalidID indicates a non-positive resource identifier. Returned before
	// any request is made.
	ErrInvalidID = errors.New("invalid id")
)

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed: %s", e.Status)
}

// Unwrap maps the status code onto the package sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return ErrBadRequest
	}
	return nil
}

// newAPIError builds an APIError from a response, extracting the "detail" field
// the service puts on every error body. Detail is either a string or a list of
// validation errors.
func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		apiErr.Detail = strings.TrimSpace(string(body))
		return apiErr
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		apiErr.Detail = detail
		return apiErr
	}

	var validation []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &validation); err == nil && len(validation) > 0 {
		msgs := make([]string, 0, len(validation))
		for _, v := range validation {
			field := ""
			if len(v.Loc) > 0 {
				field = fmt.Sprint(v.Loc[len(v.Loc)-1]) + ": "
			}
			msgs = append(msgs, field+v.Msg)
		}
		apiErr.Detail = strings.Join(msgs, "; ")
		return apiErr
	}

	apiErr.Detail = string(payload.Detail)
	return apiErr
}

// checkID rejects non-positive identifiers before a request is built.
func checkID(kind string, id int) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s %d", ErrInvalidID, kind, id)
	}
	return nil
}
