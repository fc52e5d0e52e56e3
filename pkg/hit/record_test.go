package hit

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/irhit/pkg/geo"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/protocol"
)

func TestNewRecord(t *testing.T) {
	at := time.Now()
	packet := protocol.HitPacket{Address: 0x1234, Command: 0x56, Sequence: 7}
	rec := New(protocol.HardwareAddr{1}, packet, gps.Fix{Valid: true}, geo.Verdict{Status: geo.InRange, DistanceMeters: 3}, at)

	if rec.ID == uuid.Nil {
		t.Error("record must get an ID")
	}
	if rec.ShooterID != 0x1234 || rec.ShooterSubID != 0x56 || rec.Sequence != 7 {
		t.Errorf("unexpected record %+v", rec)
	}
	if within, known := rec.WithinRange(); !within || !known {
		t.Errorf("WithinRange() = %v, %v", within, known)
	}
}

func TestWithinRangeTriState(t *testing.T) {
	tests := []struct {
		status     geo.Status
		wantWithin bool
		wantKnown  bool
	}{
		{geo.InRange, true, true},
		{geo.OutOfRange, false, true},
		{geo.Unverifiable, false, false},
	}

	for _, tt := range tests {
		rec := Record{Verdict: geo.Verdict{Status: tt.status}}
		within, known := rec.WithinRange()
		if within != tt.wantWithin || known != tt.wantKnown {
			t.Errorf("%v: WithinRange() = %v, %v", tt.status, within, known)
		}
	}
}
