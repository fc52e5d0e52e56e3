package logqueue

import (
	"fmt"
	"strings"
	"time"

	"github.com/heitortanoue/irhit/pkg/hit"
)

// FormatLine renders rec as the single CSV line stored for every hit:
//
//	timestamp,lat,lon,alt,sats,0xADDR,0xCMD,distance|-,status
func FormatLine(rec hit.Record) string {
	distance := "-"
	if rec.Verdict.Known() {
		distance = fmt.Sprintf("%.1f", rec.Verdict.DistanceMeters)
	}

	fields := []string{
		rec.Timestamp.Format(time.RFC3339),
		fmt.Sprintf("%.6f", rec.Fix.Latitude),
		fmt.Sprintf("%.6f", rec.Fix.Longitude),
		fmt.Sprintf("%.1f", rec.Fix.AltitudeMeters),
		fmt.Sprintf("%d", rec.Fix.Satellites),
		fmt.Sprintf("0x%04X", rec.ShooterID),
		fmt.Sprintf("0x%02X", rec.ShooterSubID),
		distance,
		rec.Verdict.Status.String(),
	}
	return strings.Join(fields, ",")
}
