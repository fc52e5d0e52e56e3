// Package sim stands in for the helmet peripherals when running on a host.
package sim

import (
	"sync"
	"sync/atomic"

	"github.com/heitortanoue/irhit/pkg/anticheat"
	"github.com/heitortanoue/irhit/pkg/ir"
)

// CoverageSensor is a settable coverage sensor. It starts uncovered.
type CoverageSensor struct {
	covered atomic.Bool
}

func NewCoverageSensor() *CoverageSensor {
	return &CoverageSensor{}
}

// Cover sets whether the sensor window is blocked.
func (s *CoverageSensor) Cover(covered bool) {
	s.covered.Store(covered)
}

func (s *CoverageSensor) Covered() bool {
	return s.covered.Load()
}

func (s *CoverageSensor) Read() anticheat.Level {
	if s.covered.Load() {
		return anticheat.Low
	}
	return anticheat.High
}

// IrReceiver queues pulse trains as a demodulator would capture them.
type IrReceiver struct {
	mu      sync.Mutex
	frames  []ir.PulseTrain
	limit   int
	dropped uint64
}

// NewIrReceiver holds at most limit undecoded frames; older frames are
// overwritten like a capture buffer would be.
func NewIrReceiver(limit int) *IrReceiver {
	if limit <= 0 {
		limit = 8
	}
	return &IrReceiver{limit: limit}
}

// Fire simulates a shot from a transmitter with the given address and
// command.
func (r *IrReceiver) Fire(address uint16, command uint8) {
	r.Inject(ir.EncodeNEC(address, command))
}

// Inject queues a raw pulse train.
func (r *IrReceiver) Inject(train ir.PulseTrain) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) >= r.limit {
		r.frames = r.frames[1:]
		r.dropped++
	}
	r.frames = append(r.frames, train)
}

func (r *IrReceiver) Poll() (ir.PulseTrain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return nil, false
	}
	train := r.frames[0]
	r.frames = r.frames[1:]
	return train, true
}

// Pending returns the number of queued frames.
func (r *IrReceiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
