package common

import (
	"fmt"
	"net/http"
)

// Command is an externally initiated request addressed to one charger
type Command struct {
	Action    string      `json:"action" validate:"required"`
	ChargerID string      `json:"chargerId" validate:"required"`
	Payload   interface{} `json:"payload"`
}

// Response is the reply envelope of every command transport
type Response struct {
	Payload interface{} `json:"payload,omitempty"`
	Err     *Error      `json:"error,omitempty"`
}

type Code string

const (
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition"
	Internal           Code = "internal"
	Cancelled          Code = "cancelled"
	Unimplemented      Code = "unimplemented"
	InvalidArgument    Code = "invalid_argument"
	AlreadyExists      Code = "already_exists"
	DeadlineExceeded   Code = "deadline_exceeded"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps the error code to the status used by the HTTP transport
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case NotFound:
		return http.StatusNotFound
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	case Cancelled, AlreadyExists:
		return http.StatusConflict
	case Unimplemented:
		return http.StatusNotImplemented
	case InvalidArgument:
		return http.StatusBadRequest
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
