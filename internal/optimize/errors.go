package optimize

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-visible error code.
type Code string

const (
	CodeInvalidLocation    Code = "InvalidLocation"
	CodeInvalidVehicleType Code = "InvalidVehicleType"
	CodeNoRouteFound       Code = "NoRouteFound"
	CodeInvalidRequest     Code = "InvalidRequest"
)

// Error is a structural failure that ends a request.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code of an *Error anywhere in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
