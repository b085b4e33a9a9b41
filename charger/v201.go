package charger

// OCPP 2.0.1 sessions only correlate outbound calls for now. Every inbound
// CALL is answered with NotImplemented by the dispatcher.
var routes201 = map[string]route{}
