package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrMalformedUpstream = errors.New("failed to parse Azure response")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// Outcome is the terminal state of one relay pass.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeEmptyResult       Outcome = "empty_result"
	OutcomeUpstreamError     Outcome = "upstream_error"
	OutcomeInternalError     Outcome = "internal_error"
	OutcomeMissingCredential Outcome = "missing_credential"
	OutcomeInvalidRequest    Outcome = "invalid_request"
	OutcomeRateLimited       Outcome = "rate_limited"
)

// UpstreamError is a non-2xx answer from Azure. Its status is relayed to the
// caller unchanged.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("azure api error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("azure api error (status %d): %s", e.StatusCode, e.Message)
}

// armErrorBody is the error envelope used across Azure Resource Manager.
type armErrorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newUpstreamError prefers the ARM error message and falls back to the raw
// body text, then to the status text.
func newUpstreamError(status int, body []byte) *UpstreamError {
	e := &UpstreamError{StatusCode: status}

	var parsed armErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		e.Code = parsed.Error.Code
		e.Message = parsed.Error.Message
		return e
	}

	e.Message = strings.TrimSpace(string(body))
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// errorBody is the JSON envelope every failure is returned in.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
