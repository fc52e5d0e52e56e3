package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	log "github.com/sirupsen/logrus"
)

// NMEAReader assembles a Fix from RMC and GGA sentences.
type NMEAReader struct {
	mu        sync.RWMutex
	fix       Fix
	sentences uint64
	failures  uint64
}

func NewNMEAReader() *NMEAReader {
	return &NMEAReader{}
}

// Feed parses one sentence. It reports true when the sentence completed a
// navigation epoch (an RMC), which is when a fresh fix should be consumed.
func (r *NMEAReader) Feed(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	sentence, err := nmea.Parse(line)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.failures++
		return false, fmt.Errorf("parse nmea sentence: %w", err)
	}
	r.sentences++

	switch m := sentence.(type) {
	case nmea.RMC:
		r.applyRMC(m)
		return true, nil
	case nmea.GGA:
		r.applyGGA(m)
	}
	return false, nil
}

func (r *NMEAReader) applyRMC(m nmea.RMC) {
	r.fix.Valid = m.Validity == nmea.ValidRMC
	if r.fix.Valid {
		r.fix.Latitude = m.Latitude
		r.fix.Longitude = m.Longitude
	}
	if m.Time.Valid {
		r.fix.Hour, r.fix.Minute, r.fix.Second = m.Time.Hour, m.Time.Minute, m.Time.Second
	}
	if m.Time.Valid && m.Date.Valid {
		r.fix.UTC = time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
			m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
	}
}

func (r *NMEAReader) applyGGA(m nmea.GGA) {
	r.fix.Satellites = int(m.NumSatellites)
	if m.FixQuality == nmea.Invalid {
		r.fix.Valid = false
		return
	}
	r.fix.AltitudeMeters = m.Altitude
}

// Read returns the current fix.
func (r *NMEAReader) Read() Fix {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fix
}

// Run feeds every line of src and calls onFix after each completed epoch.
// It returns when src is exhausted or ctx is cancelled; cancellation is only
// observed between lines.
func (r *NMEAReader) Run(ctx context.Context, src io.Reader, onFix func(Fix)) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		epoch, err := r.Feed(scanner.Text())
		if err != nil {
			log.WithError(err).Debug("[GPS] sentence skipped")
			continue
		}
		if epoch && onFix != nil {
			onFix(r.Read())
		}
	}
	return scanner.Err()
}

func (r *NMEAReader) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]interface{}{
		"sentences": r.sentences,
		"failures":  r.failures,
		"valid":     r.fix.Valid,
	}
}
