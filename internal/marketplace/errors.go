package marketplace

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// CodeUnknown marks transport and decode failures that carry no API code.
const CodeUnknown = 90000

// ErrMissingCredentials is wrapped by the APIError returned when a call lacks
// a required key, secret, cipher or token.
var ErrMissingCredentials = errors.New("missing credentials")

// APIError is returned for non-zero response codes and for failed calls.
type APIError struct {
	Code      int
	Message   string
	RequestID string
	Err       error
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("marketplace error %d: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("marketplace error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsGatewayTimeout reports whether err looks like a 504 or a client-side timeout.
func IsGatewayTimeout(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusGatewayTimeout {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func transportError(err error) *APIError {
	return &APIError{Code: CodeUnknown, Message: err.Error(), Err: err}
}

func missingCredential(field string) *APIError {
	return &APIError{Code: CodeUnknown, Message: "missing " + field, Err: ErrMissingCredentials}
}
