package charger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"csms/network"
	"csms/ocpp"

	"github.com/lorenzodonini/ocpp-go/ocppj"
	"gopkg.in/go-playground/validator.v9"
)

// handlerFunc decodes a CALL payload, runs the action and returns the response payload
type handlerFunc func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, *ocpp.ProtocolError)

// postHook runs after the response of an action was sent
type postHook func(s *Session, ctx context.Context) error

type route struct {
	handle handlerFunc
	after  postHook
}

// handle adapts a typed action handler
func handle[Req any, Res any](fn func(s *Session, ctx context.Context, req *Req) (*Res, error)) handlerFunc {
	return func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, *ocpp.ProtocolError) {
		req := new(Req)
		if perr := decodeRequest(payload, req); perr != nil {
			return nil, perr
		}

		res, err := fn(s, ctx, req)
		if err != nil {
			var perr *ocpp.ProtocolError
			if !errors.As(err, &perr) {
				s.log.WithError(err).Error("action failed")
				perr = ocpp.NewInternalError("%s", err.Error())
			}
			return nil, perr
		}
		return res, nil
	}
}

func (s *Session) routes() map[string]route {
	switch s.protocol {
	case ocpp.V16:
		return routes16
	default:
		return routes201
	}
}

// HandleMessage processes one inbound frame. It returns once the reply to a CALL is written.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	frame, err := ocpp.Parse(raw)
	if err != nil {
		s.handleParseError(raw, err)
		return
	}

	switch f := frame.(type) {
	case *ocpp.Call:
		s.handleCall(ctx, f)
	case *ocpp.CallResult:
		s.handle.DeliverResponse(f.ID, network.Result{Payload: f.Payload})
	case *ocpp.CallError:
		s.handle.DeliverResponse(f.ID, network.Result{Err: f.ToProtocolError()})
	}
}

func (s *Session) handleParseError(raw []byte, err error) {
	if errors.Is(err, ocpp.ErrUnknownMessageType) {
		s.log.WithField("frame", string(raw)).Debug("ignoring frame of unknown type")
		return
	}

	var ferr *ocpp.FormatError
	if !errors.As(err, &ferr) || ferr.MessageID == "" {
		s.log.WithError(err).Warn("dropping malformed frame")
		return
	}

	s.reply(ferr.MessageID, "", nil, ocpp.NewError(ocpp.FormatViolation, "%s", ferr.Reason))
}

type handlerResult struct {
	payload interface{}
	err     *ocpp.ProtocolError
}

func (s *Session) handleCall(ctx context.Context, call *ocpp.Call) {
	r, ok := s.routes()[call.Action]
	if !ok {
		s.reply(call.ID, call.Action, nil, ocpp.NewError(ocpp.NotImplemented, "Action '%s' is not implemented on this server", call.Action))
		return
	}

	timeout := s.factory.opts.MessageTimeout
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan handlerResult, 1)

	// the handler keeps the session lock until it really returns, even past the timeout
	go func() {
		payload, perr := s.runLocked(hctx, r.handle, call)
		result <- handlerResult{payload, perr}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res handlerResult
	select {
	case res = <-result:
	case <-timer.C:
		res.err = ocpp.NewInternalError("Handler for %s timed out after %dms", call.Action, timeout.Milliseconds())
	}

	if !s.reply(call.ID, call.Action, res.payload, res.err) || res.err != nil {
		return
	}

	if r.after != nil {
		go s.runPostHook(call.Action, r.after)
	}
}

func (s *Session) runLocked(ctx context.Context, fn handlerFunc, call *ocpp.Call) (payload interface{}, perr *ocpp.ProtocolError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logAction(call.Action).Errorf("handler panic: %v", r)
			payload, perr = nil, ocpp.NewInternalError("handler failed")
		}
	}()

	return fn(ctx, s, call.Payload)
}

// reply writes a CALLRESULT or CALLERROR for id. Returns false if nothing could be written.
func (s *Session) reply(id string, action string, payload interface{}, perr *ocpp.ProtocolError) bool {
	l := s.logAction(action)

	var frame ocpp.Frame
	if perr == nil {
		res, err := ocpp.NewCallResult(id, payload)
		if err != nil {
			l.WithError(err).Error("failed to encode response")
			perr = ocpp.NewInternalError("failed to encode response")
		} else {
			frame = res
		}
	}

	if perr != nil {
		l.WithField("code", perr.Code).Warnf("responding with error: %s", perr.Description)
		frame = ocpp.NewCallError(id, s.protocol, perr)
	}

	if err := s.handle.Send(frame); err != nil {
		l.WithError(err).Error("failed to send response")
		return false
	}
	return true
}

func (s *Session) runPostHook(action string, hook postHook) {
	if err := hook(s, context.Background()); err != nil {
		s.logAction(action).WithError(err).Error("post hook failed")
	}
}

// decodeRequest unmarshals and validates an inbound payload
func decodeRequest(payload json.RawMessage, req interface{}) *ocpp.ProtocolError {
	if err := json.Unmarshal(payload, req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ocpp.NewError(ocpp.TypeConstraintViolation, "Field %s must be of type %s", typeErr.Field, typeErr.Type)
		}
		return ocpp.NewError(ocpp.FormatViolation, "Invalid payload: %v", err)
	}

	if err := ocppj.Validate.Struct(req); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError maps a failure of ocppj.Validate, which is a validator.v9 instance
func validationError(err error) *ocpp.ProtocolError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ocpp.NewError(ocpp.FormatViolation, "Invalid payload: %v", err)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	if fe.Tag() == "required" {
		return ocpp.NewError(ocpp.OccurrenceConstraintViolation, "Field %s required but not found", field)
	}
	return ocpp.NewError(ocpp.PropertyConstraintViolation, "Field %s violates %s constraint", field, fe.Tag())
}
