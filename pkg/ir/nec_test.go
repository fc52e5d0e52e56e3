package ir

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueReceiver struct {
	frames []PulseTrain
}

func (q *queueReceiver) Poll() (PulseTrain, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

func TestNECRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		address uint16
		command uint8
	}{
		{"classic zero", 0x00, 0x00},
		{"classic", 0x04, 0x08},
		{"classic max", 0xFF, 0xFF},
		{"extended", 0x1234, 0x56},
		{"extended max", 0xFFFF, 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeNEC(EncodeNEC(tt.address, tt.command))
			require.NoError(t, err)
			assert.Equal(t, tt.address, event.Address)
			assert.Equal(t, tt.command, event.Command)
			assert.Equal(t, uint16(32), event.BitCount)
			assert.Equal(t, ProtocolNEC, event.Protocol)
			assert.Greater(t, event.Duration, 50*time.Millisecond)
		})
	}
}

func TestDecodeNECToleratesJitter(t *testing.T) {
	train := EncodeNEC(0x22, 0x33)
	for i := range train {
		train[i].Mark = train[i].Mark * 110 / 100
		train[i].Space = train[i].Space * 92 / 100
	}

	event, err := DecodeNEC(train)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x22), event.Address)
	assert.Equal(t, uint8(0x33), event.Command)
}

func TestDecodeNECErrors(t *testing.T) {
	corruptParity := EncodeNEC(0x10, 0x20)
	// flip the first bit of the command inverse
	if corruptParity[25].Space == necOneSpace {
		corruptParity[25].Space = necZeroSpace
	} else {
		corruptParity[25].Space = necOneSpace
	}

	badBit := EncodeNEC(0x10, 0x20)
	badBit[5].Space = 3 * time.Millisecond

	tests := []struct {
		name  string
		train PulseTrain
		want  error
	}{
		{"empty", nil, ErrNoHeader},
		{"no header", PulseTrain{{Mark: necBitMark, Space: necZeroSpace}}, ErrNoHeader},
		{"repeat", EncodeNECRepeat(), ErrRepeatFrame},
		{"truncated", EncodeNEC(1, 2)[:10], ErrTruncated},
		{"bad bit", badBit, ErrBadBit},
		{"command parity", corruptParity, ErrCommandParity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeNEC(tt.train)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeNEC() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecoderHoldsUntilResume(t *testing.T) {
	rx := &queueReceiver{frames: []PulseTrain{EncodeNEC(1, 1), EncodeNEC(2, 2)}}
	decoder := NewDecoder(rx)

	event, ok := decoder.TryDecode()
	require.True(t, ok)
	assert.Equal(t, uint16(1), event.Address)

	_, ok = decoder.TryDecode()
	assert.False(t, ok, "decoder must hold until Resume")
	assert.True(t, decoder.Holding())

	decoder.Resume()
	event, ok = decoder.TryDecode()
	require.True(t, ok)
	assert.Equal(t, uint16(2), event.Address)
}

func TestDecoderSkipsRepeatsAndGarbage(t *testing.T) {
	rx := &queueReceiver{frames: []PulseTrain{
		EncodeNECRepeat(),
		{{Mark: time.Millisecond}},
		EncodeNEC(7, 9),
	}}
	decoder := NewDecoder(rx)

	_, ok := decoder.TryDecode()
	assert.False(t, ok)
	_, ok = decoder.TryDecode()
	assert.False(t, ok)
	assert.False(t, decoder.Holding(), "failed decodes do not hold the decoder")

	event, ok := decoder.TryDecode()
	require.True(t, ok)
	assert.Equal(t, uint8(9), event.Command)

	stats := decoder.GetStats()
	assert.Equal(t, uint64(1), stats["decoded"])
	assert.Equal(t, uint64(1), stats["rejected"])
	assert.Equal(t, uint64(1), stats["repeats"])
}

func TestDecoderEmptyReceiver(t *testing.T) {
	decoder := NewDecoder(&queueReceiver{})
	_, ok := decoder.TryDecode()
	assert.False(t, ok)
}
