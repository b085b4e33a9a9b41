package ocpp

import (
	"errors"
	"strings"
)

// Protocol is the negotiated OCPP-J dialect of a connection
type Protocol int

const (
	V16 Protocol = iota + 1
	V201
)

const (
	Subprotocol16  = "ocpp1.6"
	Subprotocol201 = "ocpp2.0.1"

	// SubprotocolHeader is the HTTP header carrying the offered subprotocols
	SubprotocolHeader = "Sec-WebSocket-Protocol"
)

var (
	ErrNoProtocol          = errors.New("no Sec-WebSocket-Protocol header")
	ErrUnsupportedProtocol = errors.New("no supported protocol offered")
)

func (p Protocol) String() string {
	switch p {
	case V16:
		return Subprotocol16
	case V201:
		return Subprotocol201
	default:
		return "unknown"
	}
}

// Subprotocols lists the supported subprotocol tokens
func Subprotocols() []string {
	return []string{Subprotocol16, Subprotocol201}
}

// Negotiate picks the first offered entry that is exactly a supported token.
// Entries are compared byte for byte, without trimming.
func Negotiate(header string) (Protocol, error) {
	if header == "" {
		return 0, ErrNoProtocol
	}

	for _, offered := range strings.Split(header, ",") {
		switch offered {
		case Subprotocol16:
			return V16, nil
		case Subprotocol201:
			return V201, nil
		}
	}

	return 0, ErrUnsupportedProtocol
}
