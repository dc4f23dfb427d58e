package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrInvalidResponse = errors.New("invalid response from identity provider")
	ErrMissingToken    = errors.New("access token is required")
)

// Error is an error response from the identity provider, such as bad credentials or
// an expired authorization code. Message is only suitable for display to users when
// UserFacing reports true.
type Error struct {
	Status  int
	Code    string
	Message string

	// unstructured is set when the body was not a provider error envelope, e.g. a
	// proxy's HTML error page.
	unstructured bool
}

// UserFacing reports whether the provider itself rejected the request with a
// structured error. Server failures and foreign bodies are not user facing.
func (e *Error) UserFacing() bool {
	return e.Status < http.StatusInternalServerError && !e.unstructured
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return "identity provider error"
}

// IsAuthError reports whether err is a user facing rejection from the identity provider.
func IsAuthError(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.UserFacing()
}

// AsError returns the provider error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsSessionInvalid reports whether the provider rejected the session itself, as opposed
// to a transient failure. Sessions rejected this way should be discarded locally.
func IsSessionInvalid(err error) bool {
	apiErr, ok := AsError(err)
	if !ok {
		return false
	}

	switch apiErr.Code {
	case "bad_jwt", "session_not_found", "session_expired", "user_not_found",
		"refresh_token_not_found", "refresh_token_already_used":
		return true
	}

	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// errorBody covers both the current and the legacy error envelopes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func parseError(status int, body []byte) *Error {
	apiErr := &Error{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		apiErr.unstructured = true
		return apiErr
	}

	apiErr.Code = eb.ErrorCode
	if apiErr.Code == "" {
		// newer responses use a numeric code, older ones a string
		var code string
		if json.Unmarshal(eb.Code, &code) == nil {
			apiErr.Code = code
		}
	}
	if apiErr.Code == "" {
		apiErr.Code = eb.Error
	}

	for _, msg := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
		if msg != "" {
			apiErr.Message = msg
			break
		}
	}

	return apiErr
}
