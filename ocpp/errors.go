package ocpp

import (
	"encoding/json"
	"fmt"
)

// ErrorCode is the canonical (protocol independent) CALLERROR code
type ErrorCode string

const (
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	InternalError                 ErrorCode = "InternalError"
	ProtocolErrorCode             ErrorCode = "ProtocolError"
	SecurityError                 ErrorCode = "SecurityError"
	FormatViolation               ErrorCode = "FormatViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	OccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	GenericError                  ErrorCode = "GenericError"
)

// OCPP 1.6 spells two of the codes differently
const (
	formationViolation16           = "FormationViolation"
	occurenceConstraintViolation16 = "OccurenceConstraintViolation"
)

// ParseErrorCode maps a wire code of either protocol to its canonical code.
// Unknown codes map to GenericError.
func ParseErrorCode(s string) ErrorCode {
	switch s {
	case formationViolation16:
		return FormatViolation
	case occurenceConstraintViolation16:
		return OccurrenceConstraintViolation
	}

	switch code := ErrorCode(s); code {
	case NotImplemented, NotSupported, InternalError, ProtocolErrorCode, SecurityError,
		FormatViolation, PropertyConstraintViolation, OccurrenceConstraintViolation,
		TypeConstraintViolation, GenericError:
		return code
	}

	return GenericError
}

// WireName returns the spelling of the code for protocol p
func (c ErrorCode) WireName(p Protocol) string {
	if p == V16 {
		switch c {
		case FormatViolation:
			return formationViolation16
		case OccurrenceConstraintViolation:
			return occurenceConstraintViolation16
		}
	}
	return string(c)
}

// ProtocolError is an error that travels over the wire as a CALLERROR
type ProtocolError struct {
	Code        ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a ProtocolError with a formatted description
func NewError(code ErrorCode, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Description: fmt.Sprintf(format, args...)}
}

// NewInternalError wraps an arbitrary failure as InternalError
func NewInternalError(format string, args ...interface{}) *ProtocolError {
	return NewError(InternalError, format, args...)
}
