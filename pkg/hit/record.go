// Package hit defines the validated hit record produced by the tracker.
package hit

import (
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/irhit/pkg/geo"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/protocol"
)

// Record is one accepted hit after geofence validation.
type Record struct {
	ID           uuid.UUID             `json:"id"`
	Reporter     protocol.HardwareAddr `json:"reporter"`
	ShooterID    uint16                `json:"shooter_id"`
	ShooterSubID uint8                 `json:"shooter_sub_id"`
	Sequence     uint8                 `json:"sequence"`
	Verdict      geo.Verdict           `json:"verdict"`
	Fix          gps.Fix               `json:"fix"`
	CheatAlert   bool                  `json:"cheat_alert"`
	Timestamp    time.Time             `json:"timestamp"`
}

// New builds a record for packet received from reporter.
func New(reporter protocol.HardwareAddr, packet protocol.HitPacket, fix gps.Fix, verdict geo.Verdict, at time.Time) Record {
	return Record{
		ID:           uuid.New(),
		Reporter:     reporter,
		ShooterID:    packet.Address,
		ShooterSubID: packet.Command,
		Sequence:     packet.Sequence,
		Verdict:      verdict,
		Fix:          fix,
		Timestamp:    at,
	}
}

// WithinRange returns the in-range flag and whether it is known at all.
func (r Record) WithinRange() (within bool, known bool) {
	if !r.Verdict.Known() {
		return false, false
	}
	return r.Verdict.Status == geo.InRange, true
}
