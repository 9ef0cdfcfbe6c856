package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string

	// gen is the identity generation the request was sent with.
	gen uint64
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

var authErrorPatterns = []string{
	"unauthorized",
	"not authenticated",
	"invalid token",
	"token expired",
	"expired token",
}

// IsAuthError reports whether err means the session is no longer valid:
// an HTTP 401, or a message naming an invalid or expired token.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized {
			return true
		}
		return matchesAuthPattern(apiErr.Message)
	}
	return matchesAuthPattern(err.Error())
}

func matchesAuthPattern(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range authErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// errorBody accepts both {"error":{"code","message"}} and {"error":"..."}
// as well as a top-level "message".
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorFromResponse builds an APIError from a non-2xx response. The body is
// read but not closed.
func errorFromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Error) > 0 {
			var s string
			var d errorDetail
			switch {
			case json.Unmarshal(body.Error, &s) == nil:
				apiErr.Message = s
			case json.Unmarshal(body.Error, &d) == nil:
				apiErr.Code = d.Code
				apiErr.Message = d.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}

// ErrTokenRequired is returned before a call that needs a one-time token.
var ErrTokenRequired = errors.New("token is required")
