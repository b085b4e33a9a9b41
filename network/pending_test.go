package network

import (
	"encoding/json"
	"testing"

	"csms/ocpp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestPending(t *testing.T) {
	t.Run("Complete fires the registered slot once", func(t *testing.T) {
		p := NewPending(testLogger())
		slot := p.Register("m1")

		assert.Equal(t, 1, p.Size())
		assert.True(t, p.Complete("m1", Result{Payload: json.RawMessage(`{"status":"Accepted"}`)}))
		assert.Equal(t, 0, p.Size())

		res := <-slot
		assert.Nil(t, res.Err)
		assert.JSONEq(t, `{"status":"Accepted"}`, string(res.Payload))

		assert.False(t, p.Complete("m1", Result{}))
	})

	t.Run("Complete with unknown id is dropped", func(t *testing.T) {
		p := NewPending(testLogger())

		assert.False(t, p.Complete("nope", Result{Err: ocpp.NewInternalError("late")}))
	})

	t.Run("Remove drops without firing", func(t *testing.T) {
		p := NewPending(testLogger())
		slot := p.Register("m2")

		assert.True(t, p.Remove("m2"))
		assert.False(t, p.Remove("m2"))

		select {
		case <-slot:
			t.Fatal("slot must not fire after removal")
		default:
		}
	})

	t.Run("Register replaces a previous slot", func(t *testing.T) {
		p := NewPending(testLogger())
		first := p.Register("m3")
		second := p.Register("m3")

		require.Equal(t, 1, p.Size())
		p.Complete("m3", Result{})

		<-second
		select {
		case <-first:
			t.Fatal("replaced slot must not fire")
		default:
		}
	})
}
