package charger

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"csms/auth"
	"csms/authorization"
	"csms/notifier"
	"csms/ocpp"
	"csms/store"
	"csms/transaction"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chargerSink plays the charger side of the socket
type chargerSink struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newChargerSink() *chargerSink {
	return &chargerSink{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *chargerSink) WriteMessage(_ int, data []byte) error {
	c.frames <- data
	return nil
}

func (c *chargerSink) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type harness struct {
	t        *testing.T
	factory  *Factory
	store    *store.Memory
	recorder *notifier.Recorder
}

func newHarness(t *testing.T, authConf auth.Config, timeout time.Duration) *harness {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	log := logrus.NewEntry(l)

	s := store.NewMemory()
	rec := &notifier.Recorder{}

	f := NewFactory(
		s,
		transaction.NewManager(s, rec, log),
		authorization.Static{},
		auth.NewAuthenticator(s, authConf, log),
		NewRegistry(),
		Options{MessageTimeout: timeout, BcryptCost: 4},
		log,
	)

	return &harness{t: t, factory: f, store: s, recorder: rec}
}

func (h *harness) connect(id string, protocol ocpp.Protocol, password *string) (*Session, *chargerSink) {
	ctx := context.Background()

	s, err := h.factory.New(ctx, id, protocol)
	require.NoError(h.t, err)
	require.NoError(h.t, h.factory.Authenticate(ctx, s, password))

	sink := newChargerSink()
	s.Handle().Attach(sink)
	require.True(h.t, h.factory.OnConnected(ctx, s, "127.0.0.1:1234"))

	return s, sink
}

func (c *chargerSink) next(t *testing.T) ocpp.Frame {
	t.Helper()

	select {
	case raw := <-c.frames:
		frame, err := ocpp.Parse(raw)
		require.NoError(t, err)
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func (c *chargerSink) nextRaw(t *testing.T) string {
	t.Helper()

	select {
	case raw := <-c.frames:
		return string(raw)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func (c *chargerSink) expectClosed(t *testing.T) {
	t.Helper()

	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not closed")
	}
}

// call sends a CALL from the charger and returns the reply
func call(t *testing.T, s *Session, sink *chargerSink, id string, action string, payload string) ocpp.Frame {
	t.Helper()

	s.HandleMessage(context.Background(), []byte(fmt.Sprintf(`[2,%q,%q,%s]`, id, action, payload)))

	reply := sink.next(t)
	assert.Equal(t, id, reply.MessageID())
	return reply
}

func resultOf(t *testing.T, f ocpp.Frame) map[string]interface{} {
	t.Helper()

	res, ok := f.(*ocpp.CallResult)
	require.Truef(t, ok, "expected CALLRESULT, got %#v", f)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Payload, &m))
	return m
}

func errorOf(t *testing.T, f ocpp.Frame) *ocpp.CallError {
	t.Helper()

	cerr, ok := f.(*ocpp.CallError)
	require.Truef(t, ok, "expected CALLERROR, got %#v", f)
	return cerr
}

// respond answers an outbound CALL of the server
func respond(s *Session, c *ocpp.Call, payload string) {
	s.HandleMessage(context.Background(), []byte(fmt.Sprintf(`[3,%q,%s]`, c.ID, payload)))
}

func expectCall(t *testing.T, sink *chargerSink, action string) *ocpp.Call {
	t.Helper()

	c, ok := sink.next(t).(*ocpp.Call)
	require.True(t, ok)
	require.Equal(t, action, c.Action)
	return c
}

func ptr(s string) *string {
	return &s
}

const bootPayload = `{"chargePointVendor":"V","chargePointModel":"M","chargePointSerialNumber":"S"}`

func TestBootNotificationUnauthenticated(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	res := resultOf(t, call(t, s, sink, "m1", "BootNotification", bootPayload))
	assert.Equal(t, "Pending", res["status"])
	assert.EqualValues(t, 5, res["interval"])
	assert.NotEmpty(t, res["currentTime"])

	// post hook fetches the configuration
	getConf := expectCall(t, sink, "GetConfiguration")
	assert.JSONEq(t, `{}`, string(getConf.Payload))
	respond(s, getConf, `{"configurationKey":[{"key":"NumberOfConnectors","value":"2","readonly":true}]}`)

	change := expectCall(t, sink, "ChangeConfiguration")
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(change.Payload, &req))
	assert.Equal(t, "AuthorizationKey", req.Key)

	raw, err := hex.DecodeString(req.Value)
	require.NoError(t, err)
	assert.Len(t, raw, 20)

	respond(s, change, `{"status":"Accepted"}`)
	sink.expectClosed(t)

	hash, err := h.store.GetPasswordHash(context.Background(), "CP1")
	require.NoError(t, err)
	require.NotNil(t, hash)
	assert.True(t, auth.VerifyPassword(*hash, string(raw)))

	data, err := h.store.GetCharger(context.Background(), "CP1")
	require.NoError(t, err)
	assert.Equal(t, "V", *data.Vendor)
	assert.Equal(t, "M", *data.Model)
	assert.Equal(t, "S", *data.SerialNumber)
	require.Len(t, data.EVSEs, 2)
	assert.Equal(t, 1, data.EVSEs[0].OcppID)
	assert.Equal(t, 2, data.EVSEs[1].OcppID)
	assert.Len(t, data.EVSEs[0].Connectors, 1)
	v, ok := data.ConfigValue("NumberOfConnectors")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	t.Run("Reconnect with the rotated password", func(t *testing.T) {
		h.factory.OnDisconnected(context.Background(), s)

		header := "Basic " + base64.StdEncoding.EncodeToString([]byte("CP1:"+string(raw)))
		password, err := auth.ParsePassword(header)
		require.NoError(t, err)

		s2, sink2 := h.connect("CP1", ocpp.V16, password)
		assert.True(t, s2.Authenticated())

		res := resultOf(t, call(t, s2, sink2, "m2", "BootNotification", bootPayload))
		assert.Equal(t, "Accepted", res["status"])
		assert.EqualValues(t, 3600, res["interval"])

		// configuration is refreshed but no rotation happens
		respond(s2, expectCall(t, sink2, "GetConfiguration"), `{"configurationKey":[]}`)

		select {
		case f := <-sink2.frames:
			t.Fatalf("unexpected frame %s", f)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestBootNotificationRepeatedWhilePending(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	var getConfs []*ocpp.Call
	for i := 0; i < 2; i++ {
		res := resultOf(t, call(t, s, sink, fmt.Sprintf("b%d", i), "BootNotification", bootPayload))
		assert.Equal(t, "Pending", res["status"])
		assert.EqualValues(t, 5, res["interval"])

		getConfs = append(getConfs, expectCall(t, sink, "GetConfiguration"))
	}

	for _, c := range getConfs {
		respond(s, c, `{"configurationKey":[]}`)
	}

	// only one key is handed out
	change := expectCall(t, sink, "ChangeConfiguration")
	select {
	case f := <-sink.frames:
		t.Fatalf("unexpected frame %s", f)
	case <-time.After(100 * time.Millisecond):
	}

	var req struct {
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(change.Payload, &req))
	raw, err := hex.DecodeString(req.Value)
	require.NoError(t, err)

	respond(s, change, `{"status":"Accepted"}`)
	sink.expectClosed(t)

	hash, err := h.store.GetPasswordHash(context.Background(), "CP1")
	require.NoError(t, err)
	require.NotNil(t, hash)
	assert.True(t, auth.VerifyPassword(*hash, string(raw)))
}

func TestBootNotificationRotationRetriedAfterRefusal(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	resultOf(t, call(t, s, sink, "b0", "BootNotification", bootPayload))
	respond(s, expectCall(t, sink, "GetConfiguration"), `{"configurationKey":[]}`)
	respond(s, expectCall(t, sink, "ChangeConfiguration"), `{"status":"Rejected"}`)

	assert.Eventually(t, func() bool { return !s.rotating.Load() }, time.Second, 10*time.Millisecond)

	resultOf(t, call(t, s, sink, "b1", "BootNotification", bootPayload))
	respond(s, expectCall(t, sink, "GetConfiguration"), `{"configurationKey":[]}`)
	expectCall(t, sink, "ChangeConfiguration")
}

func TestBootNotificationRotationRefused(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	resultOf(t, call(t, s, sink, "m1", "BootNotification", bootPayload))
	respond(s, expectCall(t, sink, "GetConfiguration"), `{"configurationKey":[]}`)
	respond(s, expectCall(t, sink, "ChangeConfiguration"), `{"status":"Rejected"}`)

	select {
	case <-sink.closed:
		t.Fatal("socket must stay open")
	case <-time.After(100 * time.Millisecond):
	}

	hash, _ := h.store.GetPasswordHash(context.Background(), "CP1")
	assert.Nil(t, hash)
}

func TestBootNotificationMasterPasswordVendor(t *testing.T) {
	h := newHarness(t, auth.Config{MasterPassword: "master", MasterPasswordVendors: []string{"Easee"}}, time.Second)
	s, sink := h.connect("EH1", ocpp.V16, nil)

	res := resultOf(t, call(t, s, sink, "m1", "BootNotification", `{"chargePointVendor":"Easee","chargePointModel":"Home"}`))
	assert.Equal(t, "Pending", res["status"])

	respond(s, expectCall(t, sink, "GetConfiguration"), `{"configurationKey":[]}`)
	sink.expectClosed(t)

	hash, _ := h.store.GetPasswordHash(context.Background(), "EH1")
	assert.Nil(t, hash)

	t.Run("Next connection uses the master password", func(t *testing.T) {
		h.factory.OnDisconnected(context.Background(), s)

		s2, _ := h.connect("EH1", ocpp.V16, ptr("master"))
		assert.True(t, s2.Authenticated())
	})
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	res := resultOf(t, call(t, s, sink, "h1", "Heartbeat", `{}`))

	_, err := time.Parse(time.RFC3339, res["currentTime"].(string))
	assert.NoError(t, err)
}

func TestTransactionLifecycle(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)
	ctx := context.Background()

	// the charger already booted once
	s.data.SerialNumber = ptr("S")

	resultOf(t, call(t, s, sink, "s1", "StatusNotification", `{"connectorId":1,"errorCode":"NoError","status":"Preparing"}`))
	assert.Equal(t, []string{notifier.TopicTransactionStarted, notifier.TopicTransactionUpdated}, h.recorder.Topics())

	data := s.Snapshot()
	require.Len(t, data.EVSEs, 1)
	evse := data.EVSEs[0]
	assert.Equal(t, store.StatusOccupied, evse.Connectors[0].Status)

	tx, err := h.store.GetOngoingTransaction(ctx, "CP1", evse.ID)
	require.NoError(t, err)
	require.NotNil(t, tx)

	started := h.recorder.Notifications()[0].Data.(notifier.TransactionStartedEvent)
	assert.Equal(t, tx.ID, started.TransactionID)
	assert.Equal(t, evse.ID, started.EVSEID)
	assert.Equal(t, evse.Connectors[0].ID, *started.ConnectorID)

	res := resultOf(t, call(t, s, sink, "s2", "StartTransaction", `{"connectorId":1,"idTag":"central","meterStart":0,"timestamp":"2023-01-01T10:00:00Z"}`))
	assert.Equal(t, map[string]interface{}{"status": "Accepted"}, res["idTagInfo"])
	assert.EqualValues(t, transaction.NumericID(tx), res["transactionId"])
	assert.NotZero(t, res["transactionId"])

	resultOf(t, call(t, s, sink, "s3", "MeterValues", fmt.Sprintf(
		`{"connectorId":1,"transactionId":%d,"meterValue":[{"timestamp":"2023-01-01T10:05:00Z","sampledValue":[{"value":"16.5","measurand":"Current.Import","phase":"L1"},{"value":"230","measurand":"Voltage","phase":"L2-N"},{"value":"3.7","measurand":"Power.Active.Import","unit":"kW"}]}]}`,
		transaction.NumericID(tx))))

	resultOf(t, call(t, s, sink, "s4", "StopTransaction", fmt.Sprintf(`{"transactionId":%d,"meterStop":1500,"timestamp":"2023-01-01T11:00:00Z"}`, transaction.NumericID(tx))))

	resultOf(t, call(t, s, sink, "s5", "StatusNotification", `{"connectorId":1,"errorCode":"NoError","status":"Available"}`))
	resultOf(t, call(t, s, sink, "s6", "StatusNotification", `{"connectorId":1,"errorCode":"NoError","status":"Available"}`))

	assert.Equal(t, []string{
		notifier.TopicTransactionStarted,
		notifier.TopicTransactionUpdated,
		notifier.TopicTransactionUpdated,
		notifier.TopicTransactionStopped,
	}, h.recorder.Topics())

	meter := h.recorder.Notifications()[2].Data.(notifier.TransactionEvent)
	assert.Equal(t, notifier.TriggerMeterValuePeriodic, meter.TriggerReason)
	assert.Len(t, meter.MeterValues, 3)

	stopped := h.recorder.Notifications()[3].Data.(notifier.TransactionStoppedEvent)
	assert.Equal(t, tx.ID, stopped.TransactionID)
	assert.Equal(t, 1500, stopped.WattCharged)

	data = s.Snapshot()
	assert.Equal(t, float32(16.5), data.EVSEs[0].AmpereOutput.L1.Value)
	assert.Equal(t, float32(230), data.EVSEs[0].Voltage.L2.Value)
	assert.Equal(t, float32(3700), data.EVSEs[0].WattOutput.L1.Value)
	assert.Equal(t, store.StatusAvailable, data.EVSEs[0].Connectors[0].Status)
}

func TestMeterValuesOnlyNewerSamples(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)
	s.data.EVSEs = append(s.data.EVSEs, store.NewEVSE(1))

	sample := func(id string, ts string, value string) {
		resultOf(t, call(t, s, sink, id, "MeterValues", fmt.Sprintf(
			`{"connectorId":1,"meterValue":[{"timestamp":%q,"sampledValue":[{"value":%q,"measurand":"Current.Import"}]}]}`, ts, value)))
	}

	sample("m1", "2023-01-01T10:00:00Z", "10")
	sample("m2", "2023-01-01T09:00:00Z", "20")
	sample("m3", "2023-01-01T10:00:00Z", "30")

	metric := s.Snapshot().EVSEs[0].AmpereOutput.L1
	assert.Equal(t, float32(10), metric.Value)
	assert.Equal(t, time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC), metric.MeasuredAt.UTC())

	sample("m4", "2023-01-01T11:00:00Z", "40")
	assert.Equal(t, float32(40), s.Snapshot().EVSEs[0].AmpereOutput.L1.Value)

	// no transaction, no events
	assert.Empty(t, h.recorder.Topics())
}

func TestStatusNotificationChargerLevel(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)
	s.data.SerialNumber = ptr("S")

	resultOf(t, call(t, s, sink, "s1", "StatusNotification", `{"connectorId":0,"errorCode":"InternalError","status":"Faulted"}`))

	data, _ := h.store.GetCharger(context.Background(), "CP1")
	assert.Equal(t, store.StatusFaulted, data.Status)
	assert.Empty(t, data.EVSEs)
}

func TestStatusNotificationTriggersBoot(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)

	t.Run("Trigger accepted", func(t *testing.T) {
		s, sink := h.connect("CP1", ocpp.V16, nil)

		resultOf(t, call(t, s, sink, "s1", "StatusNotification", `{"connectorId":0,"errorCode":"NoError","status":"Available"}`))

		trigger := expectCall(t, sink, "TriggerMessage")
		assert.JSONEq(t, `{"requestedMessage":"BootNotification"}`, string(trigger.Payload))
		respond(s, trigger, `{"status":"Accepted"}`)

		select {
		case f := <-sink.frames:
			t.Fatalf("unexpected frame %s", f)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Trigger rejected resets the charger", func(t *testing.T) {
		s, sink := h.connect("CP2", ocpp.V16, nil)

		resultOf(t, call(t, s, sink, "s1", "StatusNotification", `{"connectorId":0,"errorCode":"NoError","status":"Available"}`))
		respond(s, expectCall(t, sink, "TriggerMessage"), `{"status":"Rejected"}`)

		reset := expectCall(t, sink, "Reset")
		assert.JSONEq(t, `{"type":"Soft"}`, string(reset.Payload))
		respond(s, reset, `{"status":"Accepted"}`)
	})
}

func TestAuthorize(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	t.Run("Authorization disabled for the charger", func(t *testing.T) {
		res := resultOf(t, call(t, s, sink, "a1", "Authorize", `{"idTag":"ABCDEF"}`))
		assert.Equal(t, map[string]interface{}{"status": "Accepted"}, res["idTagInfo"])
	})

	t.Run("Authorization service unavailable", func(t *testing.T) {
		s.data.Settings.AuthorizeTransactions = true
		s.factory.authorizer = authorization.New("http://127.0.0.1:1", "", 100*time.Millisecond)

		cerr := errorOf(t, call(t, s, sink, "a2", "Authorize", `{"idTag":"ABCDEF"}`))
		assert.Equal(t, "InternalError", cerr.Code)

		res := resultOf(t, call(t, s, sink, "a3", "Authorize", `{"idTag":"central"}`))
		assert.Equal(t, map[string]interface{}{"status": "Accepted"}, res["idTagInfo"])
	})
}

func TestDataTransfer(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	res := resultOf(t, call(t, s, sink, "d1", "DataTransfer", `{"vendorId":"V"}`))
	assert.Equal(t, "Rejected", res["status"])

	resultOf(t, call(t, s, sink, "d2", "FirmwareStatusNotification", `{"status":"Idle"}`))
	resultOf(t, call(t, s, sink, "d3", "DiagnosticsStatusNotification", `{"status":"Idle"}`))
}

func TestProtocolErrors(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	t.Run("Unknown action", func(t *testing.T) {
		cerr := errorOf(t, call(t, s, sink, "u1", "Foo", `{}`))
		assert.Equal(t, "NotImplemented", cerr.Code)
		assert.Equal(t, "Action 'Foo' is not implemented on this server", cerr.Description)
	})

	t.Run("Missing required field", func(t *testing.T) {
		cerr := errorOf(t, call(t, s, sink, "u2", "Authorize", `{}`))
		assert.Equal(t, "OccurenceConstraintViolation", cerr.Code)
		assert.Equal(t, "Field IdTag required but not found", cerr.Description)
	})

	t.Run("Constraint violated", func(t *testing.T) {
		cerr := errorOf(t, call(t, s, sink, "u5", "Authorize", `{"idTag":"0123456789012345678901"}`))
		assert.Equal(t, "PropertyConstraintViolation", cerr.Code)
		assert.Equal(t, "Field IdTag violates max constraint", cerr.Description)
	})

	t.Run("Wrong type", func(t *testing.T) {
		cerr := errorOf(t, call(t, s, sink, "u3", "StartTransaction", `{"connectorId":"one","idTag":"x","meterStart":0,"timestamp":"2023-01-01T10:00:00Z"}`))
		assert.Equal(t, "TypeConstraintViolation", cerr.Code)
	})

	t.Run("Malformed CALL keeps the message id", func(t *testing.T) {
		s.HandleMessage(context.Background(), []byte(`[2,"u4","Heartbeat"]`))

		cerr := errorOf(t, sink.next(t))
		assert.Equal(t, "u4", cerr.ID)
		assert.Equal(t, "FormationViolation", cerr.Code)
	})

	t.Run("Unknown message type and garbage are ignored", func(t *testing.T) {
		s.HandleMessage(context.Background(), []byte(`[7,"x",{}]`))
		s.HandleMessage(context.Background(), []byte(`not json`))

		select {
		case f := <-sink.frames:
			t.Fatalf("unexpected frame %s", f)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("Late response is dropped", func(t *testing.T) {
		s.HandleMessage(context.Background(), []byte(`[3,"never-sent",{}]`))
		s.HandleMessage(context.Background(), []byte(`[4,"never-sent","Foo","bar",{}]`))

		assert.Equal(t, 0, s.Handle().InFlight())
	})
}

func TestHandlerTimeout(t *testing.T) {
	h := newHarness(t, auth.Config{}, 50*time.Millisecond)
	s, sink := h.connect("CP1", ocpp.V16, nil)

	release := make(chan struct{})
	routes16["TestSlow"] = route{handle: func(ctx context.Context, s *Session, _ json.RawMessage) (interface{}, *ocpp.ProtocolError) {
		<-release
		return struct{}{}, nil
	}}
	defer delete(routes16, "TestSlow")

	cerr := errorOf(t, call(t, s, sink, "t1", "TestSlow", `{}`))
	assert.Equal(t, "InternalError", cerr.Code)
	assert.Contains(t, cerr.Description, "timed out after 50ms")

	close(release)

	// the session lock is released once the slow handler returns
	resultOf(t, call(t, s, sink, "t2", "Heartbeat", `{}`))
}

func TestV201(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	s, sink := h.connect("CP1", ocpp.V201, nil)

	cerr := errorOf(t, call(t, s, sink, "v1", "BootNotification", `{"reason":"PowerUp","chargingStation":{"model":"M","vendorName":"V"}}`))
	assert.Equal(t, "NotImplemented", cerr.Code)

	t.Run("Error codes use the 2.0.1 spelling", func(t *testing.T) {
		s.HandleMessage(context.Background(), []byte(`[2,"v2","Heartbeat"]`))

		assert.Equal(t, `[4,"v2","FormatViolation","CALL must have 4 elements",{}]`, sink.nextRaw(t))
	})
}

func TestLifecycleRegistry(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	ctx := context.Background()

	s, _ := h.connect("CP1", ocpp.V16, nil)
	assert.True(t, h.factory.Connected("CP1"))

	data, _ := h.store.GetCharger(ctx, "CP1")
	assert.True(t, data.Connection.Online)
	assert.Equal(t, "ocpp1.6", data.Connection.Protocol)

	dup, err := h.factory.New(ctx, "CP1", ocpp.V16)
	require.NoError(t, err)
	assert.False(t, h.factory.OnConnected(ctx, dup, ""))

	h.factory.OnDisconnected(ctx, s)
	assert.False(t, h.factory.Connected("CP1"))

	select {
	case <-s.Done():
	default:
		t.Fatal("session must be done")
	}

	data, _ = h.store.GetCharger(ctx, "CP1")
	assert.False(t, data.Connection.Online)
}

func TestAuthenticateForbidden(t *testing.T) {
	h := newHarness(t, auth.Config{}, time.Second)
	ctx := context.Background()

	hash, _ := auth.HashPassword("secret", 4)
	require.NoError(t, h.store.SetPasswordHash(ctx, "CP1", hash))

	s, err := h.factory.New(ctx, "CP1", ocpp.V16)
	require.NoError(t, err)

	assert.ErrorIs(t, h.factory.Authenticate(ctx, s, nil), auth.ErrForbidden)
	assert.ErrorIs(t, h.factory.Authenticate(ctx, s, ptr("wrong")), auth.ErrForbidden)
	assert.NoError(t, h.factory.Authenticate(ctx, s, ptr("secret")))
	assert.True(t, s.Authenticated())
}
