package ari

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// APIError is a non-2xx ARI response. A 404 unwraps to gateway.ErrNotFound.
type APIError struct {
	StatusCode int
	Status     string
	// Message is the "message" field of the ARI error body, if any.
	Message string
	RawBody []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ari error: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return gateway.ErrNotFound
	}
	return nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RawBody:    body,
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Message = parsed.Message
	}
	return apiErr
}
