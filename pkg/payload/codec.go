// Package payload encodes the fixed-layout uplink record.
//
// Layout, big-endian, 23 bytes:
//
//	0  irAddress      u16
//	2  irCommand      u8
//	3  latitude       i32  degrees x 1e6
//	7  longitude      i32  degrees x 1e6
//	11 altitude       i16  meters, saturating
//	13 satellites     u8
//	14 hour           u8   local time
//	15 minute         u8
//	16 second         u8
//	17 hitStatus      u8
//	18 distance       u16  meters, saturating, 0xFFFF when unknown
//	20 flags          u8   bit0 cheatDetected, bit1 gpsValid
//	21 sequence       u8
//	22 checksum       u8   CRC-8/0x07 over bytes 0..21
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sigurn/crc8"

	"github.com/heitortanoue/irhit/pkg/geo"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/hit"
)

// Size is the encoded length.
const Size = 23

// DistanceUnknown marks a payload without a computed distance.
const DistanceUnknown = 0xFFFF

const (
	flagCheat    = 1 << 0
	flagGPSValid = 1 << 1
)

var ErrCorruptPayload = errors.New("corrupt uplink payload")

var crcTable = crc8.MakeTable(crc8.CRC8)

// HitStatus is the on-air hit classification.
type HitStatus uint8

const (
	HitNone HitStatus = iota
	HitInRange
	HitOutOfRange
	HitUnverifiable
)

func (s HitStatus) String() string {
	switch s {
	case HitInRange:
		return "IN_RANGE"
	case HitOutOfRange:
		return "OUT_OF_RANGE"
	case HitUnverifiable:
		return "UNVERIFIABLE"
	default:
		return "NONE"
	}
}

// Status carries the node flags that are not part of a hit record.
type Status struct {
	CheatDetected bool
	Sequence      uint8
}

// Uplink is the decoded form of a payload.
type Uplink struct {
	IRAddress      uint16    `json:"ir_address"`
	IRCommand      uint8     `json:"ir_command"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AltitudeMeters int16     `json:"altitude_meters"`
	Satellites     uint8     `json:"satellites"`
	Hour           uint8     `json:"hour"`
	Minute         uint8     `json:"minute"`
	Second         uint8     `json:"second"`
	HitStatus      HitStatus `json:"hit_status"`
	DistanceMeters uint16    `json:"distance_meters"`
	CheatDetected  bool      `json:"cheat_detected"`
	GPSValid       bool      `json:"gps_valid"`
	Sequence       uint8     `json:"sequence"`
}

// Build assembles an Uplink. rec may be nil for a periodic status uplink.
func Build(rec *hit.Record, fix gps.Fix, status Status) Uplink {
	u := Uplink{
		Satellites:     uint8(clamp(float64(fix.Satellites), 0, math.MaxUint8)),
		Hour:           uint8(fix.Hour),
		Minute:         uint8(fix.Minute),
		Second:         uint8(fix.Second),
		CheatDetected:  status.CheatDetected,
		GPSValid:       fix.Valid,
		Sequence:       status.Sequence,
		DistanceMeters: DistanceUnknown,
	}
	if fix.Valid {
		u.Latitude = quantize(fix.Latitude)
		u.Longitude = quantize(fix.Longitude)
		u.AltitudeMeters = int16(clamp(math.Round(fix.AltitudeMeters), math.MinInt16, math.MaxInt16))
	}
	if rec == nil {
		return u
	}

	u.IRAddress = rec.ShooterID
	u.IRCommand = rec.ShooterSubID
	u.Sequence = rec.Sequence
	u.CheatDetected = u.CheatDetected || rec.CheatAlert
	if !rec.Timestamp.IsZero() {
		h, m, s := rec.Timestamp.Clock()
		u.Hour, u.Minute, u.Second = uint8(h), uint8(m), uint8(s)
	}

	switch rec.Verdict.Status {
	case geo.InRange:
		u.HitStatus = HitInRange
	case geo.OutOfRange:
		u.HitStatus = HitOutOfRange
	default:
		u.HitStatus = HitUnverifiable
	}
	if rec.Verdict.Known() {
		u.DistanceMeters = uint16(clamp(math.Round(rec.Verdict.DistanceMeters), 0, DistanceUnknown-1))
	}
	return u
}

// Encode builds and serialises a payload in one step.
func Encode(rec *hit.Record, fix gps.Fix, status Status) []byte {
	return Marshal(Build(rec, fix, status))
}

// Decode is Unmarshal under the name used by the uplink side.
func Decode(data []byte) (Uplink, error) {
	return Unmarshal(data)
}

// Marshal serialises u and appends the checksum.
func Marshal(u Uplink) []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint16(buf[0:2], u.IRAddress)
	buf[2] = u.IRCommand
	binary.BigEndian.PutUint32(buf[3:7], uint32(toMicroDegrees(u.Latitude)))
	binary.BigEndian.PutUint32(buf[7:11], uint32(toMicroDegrees(u.Longitude)))
	binary.BigEndian.PutUint16(buf[11:13], uint16(u.AltitudeMeters))
	buf[13] = u.Satellites
	buf[14] = u.Hour
	buf[15] = u.Minute
	buf[16] = u.Second
	buf[17] = byte(u.HitStatus)
	binary.BigEndian.PutUint16(buf[18:20], u.DistanceMeters)

	var flags byte
	if u.CheatDetected {
		flags |= flagCheat
	}
	if u.GPSValid {
		flags |= flagGPSValid
	}
	buf[20] = flags
	buf[21] = u.Sequence
	buf[22] = crc8.Checksum(buf[:Size-1], crcTable)
	return buf
}

// Unmarshal verifies the length and checksum and decodes data.
func Unmarshal(data []byte) (Uplink, error) {
	if len(data) != Size {
		return Uplink{}, fmt.Errorf("%d bytes: %w", len(data), ErrCorruptPayload)
	}
	if sum := crc8.Checksum(data[:Size-1], crcTable); sum != data[Size-1] {
		return Uplink{}, fmt.Errorf("checksum 0x%02X, want 0x%02X: %w", data[Size-1], sum, ErrCorruptPayload)
	}

	return Uplink{
		IRAddress:      binary.BigEndian.Uint16(data[0:2]),
		IRCommand:      data[2],
		Latitude:       float64(int32(binary.BigEndian.Uint32(data[3:7]))) / 1e6,
		Longitude:      float64(int32(binary.BigEndian.Uint32(data[7:11]))) / 1e6,
		AltitudeMeters: int16(binary.BigEndian.Uint16(data[11:13])),
		Satellites:     data[13],
		Hour:           data[14],
		Minute:         data[15],
		Second:         data[16],
		HitStatus:      HitStatus(data[17]),
		DistanceMeters: binary.BigEndian.Uint16(data[18:20]),
		CheatDetected:  data[20]&flagCheat != 0,
		GPSValid:       data[20]&flagGPSValid != 0,
		Sequence:       data[21],
	}, nil
}

func toMicroDegrees(deg float64) int32 {
	return int32(clamp(math.Round(deg*1e6), math.MinInt32, math.MaxInt32))
}

func quantize(deg float64) float64 {
	return float64(toMicroDegrees(deg)) / 1e6
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
