package gps

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	validRMC   = "$GPRMC,070305.00,A,0757.99998,S,11237.99998,E,0.0,0.0,181026,,,A*4D"
	validGGA   = "$GPGGA,070305.00,0757.99998,S,11237.99998,E,1,08,0.9,451.3,M,0.0,M,,*41"
	invalidRMC = "$GPRMC,070306.00,V,0757.99998,S,11237.99998,E,0.0,0.0,181026,,,N*56"
	invalidGGA = "$GPGGA,070306.00,0757.99998,S,11237.99998,E,0,03,9.9,451.3,M,0.0,M,,*41"
)

func TestNMEAReaderValidFix(t *testing.T) {
	r := NewNMEAReader()

	epoch, err := r.Feed(validGGA)
	require.NoError(t, err)
	assert.False(t, epoch)

	epoch, err = r.Feed(validRMC)
	require.NoError(t, err)
	assert.True(t, epoch)

	fix := r.Read()
	assert.True(t, fix.Valid)
	assert.InDelta(t, -7.966666, fix.Latitude, 1e-5)
	assert.InDelta(t, 112.633333, fix.Longitude, 1e-5)
	assert.InDelta(t, 451.3, fix.AltitudeMeters, 1e-9)
	assert.Equal(t, 8, fix.Satellites)
	assert.Equal(t, 7, fix.Hour)
	assert.Equal(t, 3, fix.Minute)
	assert.Equal(t, 5, fix.Second)
	assert.Equal(t, time.Date(2026, 10, 18, 7, 3, 5, 0, time.UTC), fix.UTC)
}

func TestNMEAReaderLosesFix(t *testing.T) {
	r := NewNMEAReader()
	r.Feed(validGGA)
	r.Feed(validRMC)

	_, err := r.Feed(invalidRMC)
	require.NoError(t, err)
	assert.False(t, r.Read().Valid)

	r.Feed(validRMC)
	assert.True(t, r.Read().Valid)

	_, err = r.Feed(invalidGGA)
	require.NoError(t, err)
	fix := r.Read()
	assert.False(t, fix.Valid)
	assert.Equal(t, 3, fix.Satellites)
}

func TestNMEAReaderRejectsGarbage(t *testing.T) {
	r := NewNMEAReader()

	_, err := r.Feed("$GPRMC,garbage*00")
	assert.Error(t, err)

	epoch, err := r.Feed("   ")
	assert.NoError(t, err)
	assert.False(t, epoch)

	assert.Equal(t, uint64(1), r.GetStats()["failures"])
}

func TestNMEAReaderRun(t *testing.T) {
	input := strings.Join([]string{validGGA, "junk", validRMC, invalidRMC}, "\r\n")
	r := NewNMEAReader()

	var fixes []Fix
	err := r.Run(context.Background(), strings.NewReader(input), func(f Fix) {
		fixes = append(fixes, f)
	})
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.True(t, fixes[0].Valid)
	assert.False(t, fixes[1].Valid)
}

func TestNMEAReaderRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewNMEAReader().Run(ctx, strings.NewReader(validRMC+"\n"+validRMC), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(-7.966667, 112.633333, 450, 8)
	src.now = func() time.Time { return time.Date(2026, 10, 18, 7, 3, 5, 0, time.UTC) }

	fix := src.Read()
	assert.True(t, fix.Valid)
	assert.Equal(t, 8, fix.Satellites)
	assert.Equal(t, 7, fix.Hour)
	assert.Equal(t, 5, fix.Second)

	src.Set(Fix{Valid: false})
	assert.False(t, src.Read().Valid)

	src.SetPosition(1, 2)
	fix = src.Read()
	assert.True(t, fix.Valid)
	assert.Equal(t, 1.0, fix.Latitude)
	assert.Equal(t, 2.0, fix.Longitude)
}
