package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"csms/ocpp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chargerSink records outgoing frames and optionally answers CALLs
type chargerSink struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	onWrite func(call *ocpp.Call)
	failing bool
}

func (s *chargerSink) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	if s.failing {
		s.mu.Unlock()
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, data)
	onWrite := s.onWrite
	s.mu.Unlock()

	if onWrite != nil {
		frame, err := ocpp.Parse(data)
		if err == nil {
			if call, ok := frame.(*ocpp.Call); ok {
				onWrite(call)
			}
		}
	}
	return nil
}

func (s *chargerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chargerSink) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

type statusResponse struct {
	Status string `json:"status"`
}

func TestHandleSendRaw(t *testing.T) {
	h := NewHandle(ocpp.V16, time.Second, testLogger())

	assert.ErrorIs(t, h.SendRaw([]byte(`[3,"1",{}]`)), ErrNotAttached)

	sink := &chargerSink{}
	h.Attach(sink)
	require.NoError(t, h.SendRaw([]byte(`[3,"1",{}]`)))

	assert.Equal(t, [][]byte{[]byte(`[3,"1",{}]`)}, sink.written())
}

func TestHandleCall(t *testing.T) {
	t.Run("Response delivered synchronously during the write", func(t *testing.T) {
		h := NewHandle(ocpp.V16, time.Second, testLogger())
		sink := &chargerSink{}
		sink.onWrite = func(call *ocpp.Call) {
			// the slot must already exist when the frame hits the wire
			assert.True(t, h.DeliverResponse(call.ID, Result{Payload: []byte(`{"status":"Accepted"}`)}))
		}
		h.Attach(sink)

		res, err := SendRequest[statusResponse](context.Background(), h, "Reset", map[string]string{"type": "Soft"})
		require.NoError(t, err)
		assert.Equal(t, "Accepted", res.Status)
		assert.Equal(t, 0, h.InFlight())
	})

	t.Run("CALLERROR is returned as ProtocolError", func(t *testing.T) {
		h := NewHandle(ocpp.V16, time.Second, testLogger())
		sink := &chargerSink{}
		sink.onWrite = func(call *ocpp.Call) {
			go h.DeliverResponse(call.ID, Result{Err: ocpp.NewError(ocpp.NotSupported, "nope")})
		}
		h.Attach(sink)

		err := h.Call(context.Background(), "GetConfiguration", struct{}{}, nil)

		var perr *ocpp.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ocpp.NotSupported, perr.Code)
		assert.Equal(t, "nope", perr.Description)
	})

	t.Run("Timeout removes the pending entry", func(t *testing.T) {
		h := NewHandle(ocpp.V16, 50*time.Millisecond, testLogger())
		sink := &chargerSink{}
		h.Attach(sink)

		start := time.Now()
		err := h.Call(context.Background(), "Reset", map[string]string{"type": "Hard"}, nil)

		var perr *ocpp.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ocpp.InternalError, perr.Code)
		assert.Contains(t, perr.Description, "timed out after 50ms")
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		assert.Equal(t, 0, h.InFlight())

		// the late response is dropped
		frame, err := ocpp.Parse(sink.written()[0])
		require.NoError(t, err)
		assert.False(t, h.DeliverResponse(frame.MessageID(), Result{}))
	})

	t.Run("Context cancellation", func(t *testing.T) {
		h := NewHandle(ocpp.V16, time.Minute, testLogger())
		h.Attach(&chargerSink{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := h.Call(ctx, "Reset", struct{}{}, nil)

		var perr *ocpp.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ocpp.InternalError, perr.Code)
		assert.Equal(t, 0, h.InFlight())
	})

	t.Run("Not attached", func(t *testing.T) {
		h := NewHandle(ocpp.V16, time.Second, testLogger())

		err := h.Call(context.Background(), "Reset", struct{}{}, nil)
		assert.ErrorIs(t, err, ErrNotAttached)
		assert.Equal(t, 0, h.InFlight())
	})

	t.Run("Write failure", func(t *testing.T) {
		h := NewHandle(ocpp.V16, time.Second, testLogger())
		h.Attach(&chargerSink{failing: true})

		err := h.Call(context.Background(), "Reset", struct{}{}, nil)
		assert.Error(t, err)
		assert.Equal(t, 0, h.InFlight())
	})

	t.Run("Outbound CALL uses a UUID message id", func(t *testing.T) {
		h := NewHandle(ocpp.V16, 10*time.Millisecond, testLogger())
		sink := &chargerSink{}
		h.Attach(sink)

		_ = h.Call(context.Background(), "GetConfiguration", struct{}{}, nil)

		frame, err := ocpp.Parse(sink.written()[0])
		require.NoError(t, err)
		call := frame.(*ocpp.Call)
		assert.Equal(t, "GetConfiguration", call.Action)
		assert.Len(t, call.ID, 36)
		assert.JSONEq(t, `{}`, string(call.Payload))
	})

	t.Run("Concurrent calls are correlated independently", func(t *testing.T) {
		h := NewHandle(ocpp.V16, time.Second, testLogger())
		sink := &chargerSink{}
		sink.onWrite = func(call *ocpp.Call) {
			go h.DeliverResponse(call.ID, Result{Payload: []byte(`{"status":"` + call.Action + `"}`)})
		}
		h.Attach(sink)

		var wg sync.WaitGroup
		for _, action := range []string{"A", "B", "C", "D"} {
			wg.Add(1)
			go func(action string) {
				defer wg.Done()
				res, err := SendRequest[statusResponse](context.Background(), h, action, struct{}{})
				if assert.NoError(t, err) {
					assert.Equal(t, action, res.Status)
				}
			}(action)
		}
		wg.Wait()

		assert.Equal(t, 0, h.InFlight())
	})
}

func TestHandleDisconnect(t *testing.T) {
	h := NewHandle(ocpp.V16, time.Second, testLogger())
	assert.ErrorIs(t, h.Disconnect(), ErrNotAttached)

	sink := &chargerSink{}
	h.Attach(sink)
	require.NoError(t, h.Disconnect())

	assert.True(t, sink.closed)
	assert.False(t, h.Attached())
	assert.ErrorIs(t, h.SendRaw([]byte("x")), ErrNotAttached)
}
