package network

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"csms/ocpp"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is used for outbound requests when no timeout is configured
const DefaultTimeout = 30 * time.Second

var (
	// ErrNotAttached is returned when writing to a handle without a socket
	ErrNotAttached = errors.New("no socket attached to the connection handle")
)

// Sink is the send half of a WebSocket. *websocket.Conn satisfies it.
type Sink interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handle owns the send half of a charger socket and correlates
// server-initiated calls with their responses.
type Handle struct {
	protocol ocpp.Protocol
	timeout  time.Duration

	mu   sync.Mutex
	sink Sink

	pending map[ocpp.Protocol]*Pending

	log *logrus.Entry
}

func NewHandle(protocol ocpp.Protocol, timeout time.Duration, l *logrus.Entry) *Handle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Handle{
		protocol: protocol,
		timeout:  timeout,
		pending: map[ocpp.Protocol]*Pending{
			ocpp.V16:  NewPending(l.WithField("protocol", ocpp.V16.String())),
			ocpp.V201: NewPending(l.WithField("protocol", ocpp.V201.String())),
		},
		log: l,
	}
}

func (h *Handle) Protocol() ocpp.Protocol {
	return h.protocol
}

func (h *Handle) Timeout() time.Duration {
	return h.timeout
}

// Attach sets the socket sink. Called once after the upgrade.
func (h *Handle) Attach(sink Sink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

// Attached reports whether a socket is currently attached
func (h *Handle) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.sink != nil
}

// SendRaw writes a single text frame
func (h *Handle) SendRaw(msg []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sink == nil {
		return ErrNotAttached
	}

	h.log.WithField("frame", string(msg)).Debug("outgoing frame")

	return h.sink.WriteMessage(websocket.TextMessage, msg)
}

// Send encodes and writes a frame
func (h *Handle) Send(f ocpp.Frame) error {
	msg, err := ocpp.Encode(f)
	if err != nil {
		return err
	}
	return h.SendRaw(msg)
}

// Call sends a CALL with a fresh message id and waits for the response,
// decoding it into response (if not nil).
//
// The pending slot is registered before the frame is written, and the sink lock
// is only held for the write itself.
func (h *Handle) Call(ctx context.Context, action string, request interface{}, response interface{}) error {
	id := uuid.NewString()

	call, err := ocpp.NewCall(id, action, request)
	if err != nil {
		return ocpp.NewInternalError("failed to encode %s request: %v", action, err)
	}

	pending := h.pending[h.protocol]
	slot := pending.Register(id)

	if err := h.Send(call); err != nil {
		pending.Remove(id)
		return err
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		if res.Err != nil {
			return res.Err
		}

		if response != nil {
			if err := json.Unmarshal(res.Payload, response); err != nil {
				return ocpp.NewError(ocpp.FormatViolation, "failed to decode %s response: %v", action, err)
			}
		}

		return nil
	case <-timer.C:
		pending.Remove(id)
		return ocpp.NewInternalError("Request timed out after %dms", h.timeout.Milliseconds())
	case <-ctx.Done():
		pending.Remove(id)
		return ocpp.NewInternalError("Request cancelled: %v", ctx.Err())
	}
}

// SendRequest is the typed form of Handle.Call
func SendRequest[R any](ctx context.Context, h *Handle, action string, request interface{}) (*R, error) {
	response := new(R)

	if err := h.Call(ctx, action, request, response); err != nil {
		return nil, err
	}

	return response, nil
}

// DeliverResponse routes an inbound CALLRESULT/CALLERROR to its waiter
func (h *Handle) DeliverResponse(id string, res Result) bool {
	return h.pending[h.protocol].Complete(id, res)
}

// InFlight returns the number of calls waiting for a response
func (h *Handle) InFlight() int {
	return h.pending[h.protocol].Size()
}

// Disconnect closes the socket. Outstanding calls time out on their own.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sink == nil {
		return ErrNotAttached
	}

	err := h.sink.Close()
	h.sink = nil

	return err
}
