package lending

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed operation so callers can pick the right
// messaging. Transport means no usable response came back at all; every
// other kind carries whatever the server said.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindUnauthorized
	KindForbidden
	KindValidation
	KindConflict
	KindNotFound
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	default:
		return "server"
	}
}

// APIError is a failed request with the server's own message where one
// was present. Message is always displayable.
type APIError struct {
	Kind       ErrorKind
	StatusCode int // 0 for transport failures
	Message    string
	Fields     map[string][]string // field-level validation detail, if any
	err        error               // underlying cause, for transport failures
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// MessageFor extracts a displayable message from any error produced by
// this package. Falls back to err.Error for non-API errors.
func MessageFor(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
