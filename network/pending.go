package network

import (
	"encoding/json"
	"sync"

	"csms/ocpp"

	"github.com/sirupsen/logrus"
)

// Result is delivered exactly once to the requester of an outbound call
type Result struct {
	Payload json.RawMessage
	Err     *ocpp.ProtocolError
}

// Pending maps outbound message ids to one-shot delivery slots
type Pending struct {
	mu    sync.Mutex
	slots map[string]chan Result
	log   *logrus.Entry
}

func NewPending(l *logrus.Entry) *Pending {
	return &Pending{
		slots: make(map[string]chan Result),
		log:   l,
	}
}

// Register inserts a slot for id and returns its receiving end.
// A previous slot with the same id is dropped.
func (p *Pending) Register(id string) <-chan Result {
	ch := make(chan Result, 1)

	p.mu.Lock()
	p.slots[id] = ch
	p.mu.Unlock()

	return ch
}

// Complete pops the slot for id and fires it. Late responses are logged and dropped.
func (p *Pending) Complete(id string, res Result) bool {
	p.mu.Lock()
	ch, ok := p.slots[id]
	if ok {
		delete(p.slots, id)
	}
	p.mu.Unlock()

	if !ok {
		p.log.WithField("message_id", id).Warn("received response for unknown or expired message")
		return false
	}

	ch <- res
	return true
}

// Remove drops the slot for id without firing it
func (p *Pending) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.slots[id]
	delete(p.slots, id)
	return ok
}

// Size returns the number of in-flight requests
func (p *Pending) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.slots)
}
