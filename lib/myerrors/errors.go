package myerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type httpErrorCoder interface {
	error
	GetHTTPErrorCode() int
}

// Error carries the http-status to report and, for business-rule violations,
// a result code with its parameters.
type Error struct {
	httpCode int
	code     string
	params   map[string]any
	err      error
}

func (e *Error) Error() string {
	if e.code != "" {
		return fmt.Sprintf("status: %d, code: %s, err: %s", e.httpCode, e.code, e.err.Error())
	}
	return fmt.Sprintf("status: %d, err: %s", e.httpCode, e.err.Error())
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GetHTTPErrorCode() int {
	return e.httpCode
}

func (e *Error) GetCode() string {
	return e.code
}

func (e *Error) GetParams() map[string]any {
	return e.params
}

func newError(httpCode int, err error) *Error {
	return &Error{
		httpCode: httpCode,
		err:      err,
	}
}

func NewInvalidInputError(err error) *Error {
	return newError(http.StatusBadRequest, err)
}

func NewInvalidInputErrorf(format string, args ...any) *Error {
	return NewInvalidInputError(fmt.Errorf(format, args...))
}

func NewNotFoundError(err error) *Error {
	return newError(http.StatusNotFound, err)
}

func NewForbiddenError(err error) *Error {
	return newError(http.StatusForbidden, err)
}

func NewConflictError(err error) *Error {
	return newError(http.StatusConflict, err)
}

func NewInternalError(err error) *Error {
	return newError(http.StatusInternalServerError, err)
}

func NewNotImplementedError(err error) *Error {
	return newError(http.StatusNotImplemented, err)
}

func NewUnavailableError(err error) *Error {
	return newError(http.StatusServiceUnavailable, err)
}

// NewCodedError reports a violated business-rule. The message is composed from code and params.
func NewCodedError(httpCode int, code string, params map[string]any) *Error {
	return &Error{
		httpCode: httpCode,
		code:     code,
		params:   params,
		err:      fmt.Errorf("%s %v", code, params),
	}
}

func GetHTTPStatus(err error) int {
	var coder httpErrorCoder
	if errors.As(err, &coder) {
		return coder.GetHTTPErrorCode()
	}
	return http.StatusInternalServerError
}

// GetCode returns the result-code of the first coded error in the chain.
func GetCode(err error) string {
	var myErr *Error
	for err != nil {
		if !errors.As(err, &myErr) {
			return ""
		}
		if myErr.code != "" {
			return myErr.code
		}
		err = myErr.err
	}
	return ""
}

func GetParams(err error) map[string]any {
	var myErr *Error
	for err != nil {
		if !errors.As(err, &myErr) {
			return nil
		}
		if myErr.code != "" {
			return myErr.params
		}
		err = myErr.err
	}
	return nil
}

// IsClientError tells whether retrying the failed operation can never succeed.
func IsClientError(err error) bool {
	status := GetHTTPStatus(err)
	return status >= 400 && status < 500
}
