package link

import (
	"sync"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

// Transmission is one frame handed to a StubRadio.
type Transmission struct {
	Dst   protocol.HardwareAddr
	Frame []byte
}

// StubRadio records transmissions and lets the caller decide when and how
// they complete. It never delivers anything on its own.
type StubRadio struct {
	mu         sync.Mutex
	sent       []Transmission
	failNext   int
	onComplete func(Completion)
}

func NewStubRadio() *StubRadio {
	return &StubRadio{}
}

func (r *StubRadio) Transmit(dst protocol.HardwareAddr, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext > 0 {
		r.failNext--
		return ErrRadioStopped
	}
	r.sent = append(r.sent, Transmission{Dst: dst, Frame: append([]byte(nil), frame...)})
	return nil
}

func (r *StubRadio) SetCompletionHandler(handler func(Completion)) {
	r.mu.Lock()
	r.onComplete = handler
	r.mu.Unlock()
}

// FailNext makes the next n Transmit calls return an error.
func (r *StubRadio) FailNext(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

// Complete invokes the completion handler as the radio driver would.
func (r *StubRadio) Complete(done Completion) {
	r.mu.Lock()
	handler := r.onComplete
	r.mu.Unlock()

	if handler != nil {
		handler(done)
	}
}

// AckHit completes a hit frame with the given sequence as delivered.
func (r *StubRadio) AckHit(peer protocol.HardwareAddr, seq uint8) {
	r.Complete(Completion{Peer: peer, Kind: protocol.KindHit, Tag: seq, OK: true})
}

// Sent returns a copy of every recorded transmission.
func (r *StubRadio) Sent() []Transmission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transmission(nil), r.sent...)
}

// Reset forgets recorded transmissions.
func (r *StubRadio) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
