package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Frames carried over the short-range link.
//
//	Hit:    Address(2, LE) | Command(1) | Sequence(1)   4 bytes
//	Status: 0xC4 | Covered(1)                          2 bytes
//	Ack:    0xA5 | Kind(1) | Tag(1)                    3 bytes
//
// Hit frames carry no kind byte so that the wire layout stays identical to
// the helmet firmware; frames are told apart by length.
const (
	HitPacketSize   = 4
	StatusFrameSize = 2
	AckFrameSize    = 3
)

// FrameKind identifies a link frame.
type FrameKind uint8

const (
	KindUnknown FrameKind = 0x00
	KindHit     FrameKind = 0x01
	KindStatus  FrameKind = 0xC4
	KindAck     FrameKind = 0xA5
)

func (k FrameKind) String() string {
	switch k {
	case KindHit:
		return "HIT"
	case KindStatus:
		return "STATUS"
	case KindAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// HardwareAddr is a 6-byte link-layer address. It is comparable and can be
// used as a map key.
type HardwareAddr [6]byte

// ParseHardwareAddr parses "aa:bb:cc:dd:ee:ff" style addresses.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	var addr HardwareAddr
	mac, err := net.ParseMAC(s)
	if err != nil {
		return addr, fmt.Errorf("invalid hardware address %q: %w", s, err)
	}
	if len(mac) != len(addr) {
		return addr, fmt.Errorf("invalid hardware address %q: %w", s, ErrAddressLength)
	}
	copy(addr[:], mac)
	return addr, nil
}

func (a HardwareAddr) String() string {
	return net.HardwareAddr(a[:]).String()
}

// MarshalText renders the address in colon notation.
func (a HardwareAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *HardwareAddr) UnmarshalText(text []byte) error {
	addr, err := ParseHardwareAddr(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// IsZero reports whether the address is unset.
func (a HardwareAddr) IsZero() bool {
	return a == HardwareAddr{}
}

// HitPacket is the unit the reliable link transmits for every accepted hit.
type HitPacket struct {
	Address  uint16 `json:"address"`
	Command  uint8  `json:"command"`
	Sequence uint8  `json:"sequence"`
}

// Encode serialises the packet into its 4-byte wire form.
func (p HitPacket) Encode() []byte {
	data := make([]byte, HitPacketSize)
	binary.LittleEndian.PutUint16(data[0:2], p.Address)
	data[2] = p.Command
	data[3] = p.Sequence
	return data
}

// DecodeHitPacket parses a 4-byte hit frame.
func DecodeHitPacket(data []byte) (HitPacket, error) {
	if len(data) != HitPacketSize {
		return HitPacket{}, fmt.Errorf("hit frame of %d bytes: %w", len(data), ErrFrameLength)
	}
	return HitPacket{
		Address:  binary.LittleEndian.Uint16(data[0:2]),
		Command:  data[2],
		Sequence: data[3],
	}, nil
}

// EncodeStatus builds the anti-cheat status frame sent on every gate
// transition.
func EncodeStatus(covered bool) []byte {
	data := []byte{byte(KindStatus), 0}
	if covered {
		data[1] = 1
	}
	return data
}

// DecodeStatus returns whether the reporter's sensor is covered.
func DecodeStatus(data []byte) (bool, error) {
	if len(data) != StatusFrameSize || FrameKind(data[0]) != KindStatus {
		return false, ErrNotStatus
	}
	return data[1] != 0, nil
}

// Ack is the link-level acknowledgment emitted by the receiving radio.
type Ack struct {
	Kind FrameKind
	Tag  uint8
}

// EncodeAck serialises an acknowledgment.
func EncodeAck(a Ack) []byte {
	return []byte{byte(KindAck), byte(a.Kind), a.Tag}
}

// DecodeAck parses an acknowledgment frame.
func DecodeAck(data []byte) (Ack, error) {
	if len(data) != AckFrameSize || FrameKind(data[0]) != KindAck {
		return Ack{}, ErrNotAck
	}
	return Ack{Kind: FrameKind(data[1]), Tag: data[2]}, nil
}

// Classify reports the kind of a raw frame.
func Classify(data []byte) FrameKind {
	switch {
	case len(data) == HitPacketSize:
		return KindHit
	case len(data) == StatusFrameSize && FrameKind(data[0]) == KindStatus:
		return KindStatus
	case len(data) == AckFrameSize && FrameKind(data[0]) == KindAck:
		return KindAck
	default:
		return KindUnknown
	}
}

// AckFor returns the acknowledgment a receiver sends back for a data frame.
// Hit frames are tagged with their sequence number.
func AckFor(data []byte) (Ack, bool) {
	switch Classify(data) {
	case KindHit:
		return Ack{Kind: KindHit, Tag: data[3]}, true
	case KindStatus:
		return Ack{Kind: KindStatus, Tag: data[1]}, true
	default:
		return Ack{}, false
	}
}
