package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/auth"
	"github.com/Sternrassler/social-api-client/pkg/ratelimit"
)

// Common errors returned by the client.
var (
	// ErrBodyTooLarge is returned when a response body exceeds Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")

	// ErrUnexpectedTokenType is returned when a token endpoint answers with
	// something other than a bearer token.
	ErrUnexpectedTokenType = errors.New("unexpected token type")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than auth and rate limits.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents 401/403 responses and credential errors.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 and 420 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors and truncated bodies.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassInvalid represents malformed request specs.
	ErrorClassInvalid ErrorClass = "invalid_request"
)

// StatusEnhanceYourCalm is the legacy streaming rate limit status.
const StatusEnhanceYourCalm = 420

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests || status == StatusEnhanceYourCalm:
		return ErrorClassRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Classify returns the error class of any error produced by this package.
// Unknown errors classify as "".
func Classify(err error) ErrorClass {
	var (
		rateErr    *RateLimitError
		respErr    *APIResponseError
		partialErr *APIPartialResponseError
		reqErr     *APIRequestError
		invalidErr *InvalidRequestError
		authErr    *auth.AuthConfigError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &rateErr):
		return ErrorClassRateLimit
	case errors.As(err, &respErr):
		return respErr.Class()
	case errors.As(err, &partialErr), errors.As(err, &reqErr):
		return ErrorClassNetwork
	case errors.As(err, &invalidErr):
		return ErrorClassInvalid
	case errors.As(err, &authErr):
		return ErrorClassAuth
	default:
		return ""
	}
}

// InvalidRequestError reports a malformed request spec. It is a caller bug
// and is never retried.
type InvalidRequestError struct {
	Template string
	Missing  []string
	Reason   string
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid request %q: unresolved path parameters: %s",
			e.Template, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid request %q: %s", e.Template, e.Reason)
}

// APIRequestError reports a network-level failure before a response was
// obtained (connection refused, DNS, timeout).
type APIRequestError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *APIRequestError) Error() string {
	return fmt.Sprintf("request %s %s failed: %v", e.Method, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIRequestError) Unwrap() error {
	return e.Err
}

// APIPartialResponseError reports a response that ended before its declared
// length. Body holds whatever was read and may still be usable.
type APIPartialResponseError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RateLimit  *ratelimit.Snapshot
	Err        error
}

// Error implements the error interface.
func (e *APIPartialResponseError) Error() string {
	return fmt.Sprintf("partial response (status %d, %d bytes read): %v", e.StatusCode, len(e.Body), e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIPartialResponseError) Unwrap() error {
	return e.Err
}

// ErrorDetail is one entry of a structured platform error body.
type ErrorDetail struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// v2 problem fields
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Text returns the most descriptive message available.
func (d ErrorDetail) Text() string {
	switch {
	case d.Message != "":
		return d.Message
	case d.Detail != "":
		return d.Detail
	default:
		return d.Title
	}
}

// APIResponseError reports an error status returned by the server.
type APIResponseError struct {
	StatusCode int
	Header     http.Header
	Details    []ErrorDetail
	Body       []byte
	RateLimit  *ratelimit.Snapshot
}

// Error implements the error interface.
func (e *APIResponseError) Error() string {
	if len(e.Details) > 0 {
		msgs := make([]string, 0, len(e.Details))
		for _, d := range e.Details {
			if d.Code != 0 {
				msgs = append(msgs, fmt.Sprintf("%d: %s", d.Code, d.Text()))
			} else {
				msgs = append(msgs, d.Text())
			}
		}
		return fmt.Sprintf("API %s error (status %d): %s", e.Class(), e.StatusCode, strings.Join(msgs, "; "))
	}

	text := strings.TrimSpace(string(e.Body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		text = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("API %s error (status %d): %s", e.Class(), e.StatusCode, text)
}

// Class returns the error class derived from the status code.
func (e *APIResponseError) Class() ErrorClass {
	return classifyStatus(e.StatusCode)
}

// HasCode reports whether the platform returned the given error code.
func (e *APIResponseError) HasCode(code int) bool {
	for _, d := range e.Details {
		if d.Code == code {
			return true
		}
	}
	return false
}

// RateLimitError is the APIResponseError variant for 429/420 responses.
type RateLimitError struct {
	*APIResponseError

	// ResetAt is when the quota resets. Zero when the response carried no
	// rate limit headers or a reset that had already passed.
	ResetAt time.Time
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("rate limited (status %d), resets at %s", e.StatusCode, e.ResetAt.Format(time.RFC3339))
}

// Unwrap exposes the embedded APIResponseError to errors.As.
func (e *RateLimitError) Unwrap() error {
	return e.APIResponseError
}

// newResponseError builds the classified error for an error status.
func newResponseError(status int, header http.Header, body []byte, snap *ratelimit.Snapshot) error {
	respErr := &APIResponseError{
		StatusCode: status,
		Header:     header,
		Body:       body,
		RateLimit:  snap,
		Details:    parseErrorDetails(body),
	}

	if classifyStatus(status) == ErrorClassRateLimit {
		rateErr := &RateLimitError{APIResponseError: respErr}
		// A stale reset says nothing about when the quota returns.
		if snap != nil && !snap.Stale {
			rateErr.ResetAt = snap.ResetAt
		}
		return rateErr
	}
	return respErr
}

// parseErrorDetails understands {"errors":[{code,message}]} bodies and
// v2 problem documents {"title","detail","type"}.
func parseErrorDetails(body []byte) []ErrorDetail {
	if len(body) == 0 {
		return nil
	}

	var payload struct {
		Errors json.RawMessage `json:"errors"`
		Error  string          `json:"error"`
		ErrorDetail
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var details []ErrorDetail
	if len(payload.Errors) > 0 {
		if err := json.Unmarshal(payload.Errors, &details); err != nil {
			// Some legacy endpoints send "errors" as a plain string.
			var msg string
			if json.Unmarshal(payload.Errors, &msg) == nil && msg != "" {
				details = []ErrorDetail{{Message: msg}}
			}
		}
	}
	if len(details) == 0 && payload.Error != "" {
		details = []ErrorDetail{{Message: payload.Error}}
	}
	if len(details) == 0 && (payload.Title != "" || payload.Detail != "") {
		details = []ErrorDetail{payload.ErrorDetail}
	}
	return details
}
