package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the first element of every OCPP-J frame
type MessageType int

const (
	CallType       MessageType = 2
	CallResultType MessageType = 3
	CallErrorType  MessageType = 4
)

var (
	// ErrUnknownMessageType is returned for frames with a kind code outside 2..4.
	// Such frames must be ignored.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// FormatError describes a frame that could not be decoded.
// MessageID is set when the id could still be recovered from the frame.
type FormatError struct {
	MessageID string
	Reason    string
}

func (e *FormatError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("malformed frame: %s", e.Reason)
	}
	return fmt.Sprintf("malformed frame %s: %s", e.MessageID, e.Reason)
}

// Frame is one of Call, CallResult or CallError
type Frame interface {
	Type() MessageType
	MessageID() string
}

type Call struct {
	ID      string
	Action  string
	Payload json.RawMessage
}

type CallResult struct {
	ID      string
	Payload json.RawMessage
}

type CallError struct {
	ID          string
	Code        string
	Description string
	Details     json.RawMessage
}

var (
	_ Frame = (*Call)(nil)
	_ Frame = (*CallResult)(nil)
	_ Frame = (*CallError)(nil)
)

func (c *Call) Type() MessageType       { return CallType }
func (c *Call) MessageID() string       { return c.ID }
func (c *CallResult) Type() MessageType { return CallResultType }
func (c *CallResult) MessageID() string { return c.ID }
func (c *CallError) Type() MessageType  { return CallErrorType }
func (c *CallError) MessageID() string  { return c.ID }

func (c *Call) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]interface{}{CallType, c.ID, c.Action, payloadOrEmpty(c.Payload)})
}

func (c *CallResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]interface{}{CallResultType, c.ID, payloadOrEmpty(c.Payload)})
}

func (c *CallError) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]interface{}{CallErrorType, c.ID, c.Code, c.Description, payloadOrEmpty(c.Details)})
}

// NewCall builds a Call frame, serializing the payload
func NewCall(id string, action string, payload interface{}) (*Call, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Call{ID: id, Action: action, Payload: raw}, nil
}

// NewCallResult builds a CallResult frame echoing the request id
func NewCallResult(id string, payload interface{}) (*CallResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &CallResult{ID: id, Payload: raw}, nil
}

// NewCallError builds a CallError frame for the given protocol error using
// the error code spelling of protocol p.
func NewCallError(id string, p Protocol, perr *ProtocolError) *CallError {
	return &CallError{
		ID:          id,
		Code:        perr.Code.WireName(p),
		Description: perr.Description,
		Details:     perr.Details,
	}
}

// Encode serializes a frame into its wire representation
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Parse decodes a raw OCPP-J frame.
//
// Unknown kind codes return ErrUnknownMessageType. Structural problems return *FormatError.
func Parse(raw []byte) (Frame, error) {
	var elems []json.RawMessage

	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &FormatError{Reason: "frame is not a JSON array"}
	}

	if len(elems) < 2 {
		return nil, &FormatError{Reason: "frame has less than 2 elements"}
	}

	var code int
	if err := json.Unmarshal(elems[0], &code); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("invalid message type: %s", elems[0])}
	}

	var id string
	if err := json.Unmarshal(elems[1], &id); err != nil || id == "" {
		return nil, &FormatError{Reason: "message id must be a non-empty string"}
	}

	switch MessageType(code) {
	case CallType:
		if len(elems) != 4 {
			return nil, &FormatError{MessageID: id, Reason: "CALL must have 4 elements"}
		}

		var action string
		if err := json.Unmarshal(elems[2], &action); err != nil || action == "" {
			return nil, &FormatError{MessageID: id, Reason: "action must be a non-empty string"}
		}

		return &Call{ID: id, Action: action, Payload: elems[3]}, nil
	case CallResultType:
		if len(elems) != 3 {
			return nil, &FormatError{MessageID: id, Reason: "CALLRESULT must have 3 elements"}
		}

		return &CallResult{ID: id, Payload: elems[2]}, nil
	case CallErrorType:
		msg := &CallError{ID: id}

		if len(elems) > 2 {
			if err := json.Unmarshal(elems[2], &msg.Code); err != nil {
				return nil, &FormatError{MessageID: id, Reason: "error code must be a string"}
			}
		}

		if len(elems) > 3 {
			if err := json.Unmarshal(elems[3], &msg.Description); err != nil {
				return nil, &FormatError{MessageID: id, Reason: "error description must be a string"}
			}
		}

		if len(elems) > 4 {
			msg.Details = elems[4]
		}

		return msg, nil
	default:
		return nil, ErrUnknownMessageType
	}
}

// ToProtocolError converts a received CALLERROR into a ProtocolError
func (c *CallError) ToProtocolError() *ProtocolError {
	return &ProtocolError{
		Code:        ParseErrorCode(c.Code),
		Description: c.Description,
		Details:     c.Details,
	}
}

func payloadOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}
