package ir

import (
	"fmt"
	"time"
)

// NEC timings.
const (
	necHeaderMark  = 9000 * time.Microsecond
	necHeaderSpace = 4500 * time.Microsecond
	necRepeatSpace = 2250 * time.Microsecond
	necBitMark     = 560 * time.Microsecond
	necZeroSpace   = 560 * time.Microsecond
	necOneSpace    = 1690 * time.Microsecond
	necBits        = 32

	// tolerance is the accepted deviation, in percent, of any measured pulse.
	tolerance = 25
)

// ProtocolNEC names the only protocol this decoder understands.
const ProtocolNEC = "NEC"

// Pulse is one mark (carrier on) followed by one space (carrier off).
// The trailing stop bit of a frame has a zero space.
type Pulse struct {
	Mark  time.Duration
	Space time.Duration
}

// PulseTrain is one captured frame.
type PulseTrain []Pulse

// Duration is the total on-air time of the train.
func (p PulseTrain) Duration() time.Duration {
	var total time.Duration
	for _, pulse := range p {
		total += pulse.Mark + pulse.Space
	}
	return total
}

func matches(measured, expected time.Duration) bool {
	low := expected * (100 - tolerance) / 100
	high := expected * (100 + tolerance) / 100
	return measured >= low && measured <= high
}

// DecodeNEC decodes a full NEC frame. Repeat frames return ErrRepeatFrame.
func DecodeNEC(train PulseTrain) (Event, error) {
	if len(train) == 0 || !matches(train[0].Mark, necHeaderMark) {
		return Event{}, ErrNoHeader
	}
	if matches(train[0].Space, necRepeatSpace) {
		return Event{}, ErrRepeatFrame
	}
	if !matches(train[0].Space, necHeaderSpace) {
		return Event{}, ErrNoHeader
	}
	if len(train) < necBits+2 {
		return Event{}, fmt.Errorf("%d pulses: %w", len(train), ErrTruncated)
	}

	var raw uint32
	for i := 0; i < necBits; i++ {
		pulse := train[1+i]
		if !matches(pulse.Mark, necBitMark) {
			return Event{}, fmt.Errorf("bit %d mark %s: %w", i, pulse.Mark, ErrBadBit)
		}
		switch {
		case matches(pulse.Space, necOneSpace):
			raw |= 1 << i
		case matches(pulse.Space, necZeroSpace):
		default:
			return Event{}, fmt.Errorf("bit %d space %s: %w", i, pulse.Space, ErrBadBit)
		}
	}
	if !matches(train[1+necBits].Mark, necBitMark) {
		return Event{}, fmt.Errorf("stop mark %s: %w", train[1+necBits].Mark, ErrBadBit)
	}

	addrLow := uint8(raw)
	addrHigh := uint8(raw >> 8)
	command := uint8(raw >> 16)
	commandInv := uint8(raw >> 24)
	if command^commandInv != 0xFF {
		return Event{}, ErrCommandParity
	}

	address := uint16(addrLow)
	if addrLow^addrHigh != 0xFF {
		address = uint16(raw)
	}

	return Event{
		Protocol: ProtocolNEC,
		Address:  address,
		Command:  command,
		BitCount: necBits,
		RawData:  raw,
		Duration: train[:necBits+2].Duration(),
	}, nil
}

// EncodeNEC builds the pulse train a transmitter emits for address and
// command. Addresses up to 0xFF use the classic address/inverse form.
func EncodeNEC(address uint16, command uint8) PulseTrain {
	var raw uint32
	if address <= 0xFF {
		raw = uint32(address) | uint32(^uint8(address))<<8
	} else {
		raw = uint32(address)
	}
	raw |= uint32(command)<<16 | uint32(^command)<<24

	train := make(PulseTrain, 0, necBits+2)
	train = append(train, Pulse{Mark: necHeaderMark, Space: necHeaderSpace})
	for i := 0; i < necBits; i++ {
		space := necZeroSpace
		if raw&(1<<i) != 0 {
			space = necOneSpace
		}
		train = append(train, Pulse{Mark: necBitMark, Space: space})
	}
	return append(train, Pulse{Mark: necBitMark})
}

// EncodeNECRepeat builds the short frame sent while a button is held.
func EncodeNECRepeat() PulseTrain {
	return PulseTrain{
		{Mark: necHeaderMark, Space: necRepeatSpace},
		{Mark: necBitMark},
	}
}
