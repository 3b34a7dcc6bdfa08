package api

import (
	"fmt"
	"net/http"
)

// Kind classifies request failures. Each kind maps to one HTTP status.
type Kind int

const (
	InvalidInput Kind = iota
	UnsupportedType
	PayloadTooLarge
	NotFound
	StoreError
	IOError
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case UnsupportedType:
		return "UnsupportedType"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case NotFound:
		return "NotFound"
	case StoreError:
		return "StoreError"
	case IOError:
		return "IOError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Status is the HTTP status code responses for this kind carry.
func (k Kind) Status() int {
	switch k {
	case InvalidInput, UnsupportedType, PayloadTooLarge:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failed request. Message goes to the client, Err (if any) only to
// the logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
