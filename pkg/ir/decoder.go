// Package ir decodes infrared shots captured by the helmet receiver.
package ir

import (
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNoHeader      = errors.New("no NEC header")
	ErrRepeatFrame   = errors.New("NEC repeat frame")
	ErrTruncated     = errors.New("pulse train truncated")
	ErrBadBit        = errors.New("pulse does not match NEC bit timing")
	ErrCommandParity = errors.New("command and inverse do not match")
)

// Event is one decoded shot.
type Event struct {
	Protocol string        `json:"protocol"`
	Address  uint16        `json:"address"`
	Command  uint8         `json:"command"`
	BitCount uint16        `json:"bit_count"`
	RawData  uint32        `json:"raw_data"`
	Duration time.Duration `json:"duration"`
}

// Receiver is the IR demodulator peripheral. Poll returns the next captured
// frame, if any, without blocking.
type Receiver interface {
	Poll() (PulseTrain, bool)
}

// Decoder pulls frames from a Receiver and decodes them.
//
// After a successful decode the decoder holds until Resume is called and
// TryDecode reports nothing in the meantime. Callers that forget Resume stall
// the decoder; this is not corrected automatically.
type Decoder struct {
	rx      Receiver
	holding bool

	decoded  atomic.Uint64
	rejected atomic.Uint64
	repeats  atomic.Uint64
}

func NewDecoder(rx Receiver) *Decoder {
	return &Decoder{rx: rx}
}

// TryDecode makes at most one decode attempt.
func (d *Decoder) TryDecode() (Event, bool) {
	if d.holding {
		return Event{}, false
	}

	train, ok := d.rx.Poll()
	if !ok {
		return Event{}, false
	}

	event, err := DecodeNEC(train)
	if err != nil {
		if errors.Is(err, ErrRepeatFrame) {
			d.repeats.Add(1)
			return Event{}, false
		}
		d.rejected.Add(1)
		log.WithError(err).WithField("pulses", len(train)).Debug("[IR] frame rejected")
		return Event{}, false
	}

	d.holding = true
	d.decoded.Add(1)
	return event, true
}

// Resume re-arms the decoder after a successful decode.
func (d *Decoder) Resume() {
	d.holding = false
}

// Holding reports whether the decoder is waiting for Resume.
func (d *Decoder) Holding() bool {
	return d.holding
}

// GetStats returns decoder counters.
func (d *Decoder) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"decoded":  d.decoded.Load(),
		"rejected": d.rejected.Load(),
		"repeats":  d.repeats.Load(),
	}
}
