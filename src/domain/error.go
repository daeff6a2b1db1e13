package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode names a class of failure and the HTTP status it maps to
type ErrorCode struct {
	Name       string
	StatusCode int
}

var (
	ErrorCodeParameterInvalid = ErrorCode{Name: "PARAMETER_INVALID", StatusCode: http.StatusBadRequest}
	ErrorCodeResourceNotFound = ErrorCode{Name: "RESOURCE_NOT_FOUND", StatusCode: http.StatusNotFound}
	ErrorCodeAccountNotFound  = ErrorCode{Name: "ACCOUNT_NOT_FOUND", StatusCode: http.StatusBadRequest}

	ErrorCodeAuthPermissionDenied = ErrorCode{Name: "AUTH_PERMISSION_DENIED", StatusCode: http.StatusForbidden}
	ErrorCodeAuthNotAuthenticated = ErrorCode{Name: "AUTH_NOT_AUTHENTICATED", StatusCode: http.StatusUnauthorized}

	ErrorCodeInternalProcess    = ErrorCode{Name: "INTERNAL_PROCESS", StatusCode: http.StatusInternalServerError}
	ErrorCodeRemoteProcessError = ErrorCode{Name: "REMOTE_PROCESS_ERROR", StatusCode: http.StatusBadGateway}
)

// DomainError carries an error code, the underlying error and an optional message safe for clients
type DomainError struct {
	code      ErrorCode
	err       error
	clientMsg string
	detail    map[string]interface{}
}

type ErrorOption func(*DomainError)

// WithMsg sets the message returned to clients
func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.clientMsg = msg
	}
}

// WithDetail attaches structured detail returned to clients
func WithDetail(detail map[string]interface{}) ErrorOption {
	return func(e *DomainError) {
		e.detail = detail
	}
}

func NewError(code ErrorCode, err error, opts ...ErrorOption) error {
	e := DomainError{code: code, err: err}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	if e.err == nil {
		return e.Name()
	}
	return fmt.Sprintf("%s: %s", e.Name(), e.err.Error())
}

func (e DomainError) Unwrap() error {
	return e.err
}

// Name returns the error code name. A zero DomainError reports INTERNAL_PROCESS.
func (e DomainError) Name() string {
	if e.code.Name == "" {
		return ErrorCodeInternalProcess.Name
	}
	return e.code.Name
}

func (e DomainError) HTTPStatus() int {
	if e.code.StatusCode == 0 {
		return ErrorCodeInternalProcess.StatusCode
	}
	return e.code.StatusCode
}

func (e DomainError) ClientMsg() string {
	return e.clientMsg
}

func (e DomainError) Detail() map[string]interface{} {
	return e.detail
}

// Is matches any DomainError carrying the same code
func (e DomainError) Is(target error) bool {
	t, ok := target.(DomainError)
	if !ok {
		return false
	}
	return t.code == e.code
}

// HasErrorCode reports whether err is a DomainError with the given code
func HasErrorCode(err error, code ErrorCode) bool {
	return errors.Is(err, DomainError{code: code})
}
