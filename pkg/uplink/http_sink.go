package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TrackReport is the JSON body accepted by the tracking collector.
type TrackReport struct {
	ID         string  `json:"id"`
	MessageID  string  `json:"message_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Alt        int16   `json:"alt"`
	Satellites uint8   `json:"satellites"`
	IRStatus   string  `json:"irStatus"`
	Address    string  `json:"address"`
	Command    string  `json:"command"`
	Distance   *uint16 `json:"distance,omitempty"`
	Cheat      bool    `json:"cheat"`
	Time       string  `json:"time"`
}

// HTTPSink posts a TrackReport for every message.
type HTTPSink struct {
	client *http.Client
	url    string
}

func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

func (s *HTTPSink) Name() string { return "http" }

// NewTrackReport flattens msg for the collector.
func NewTrackReport(msg Message) TrackReport {
	d := msg.Decoded
	report := TrackReport{
		ID:         msg.DeviceID,
		MessageID:  msg.ID.String(),
		Lat:        d.Latitude,
		Lng:        d.Longitude,
		Alt:        d.AltitudeMeters,
		Satellites: d.Satellites,
		IRStatus:   d.HitStatus.String(),
		Address:    fmt.Sprintf("0x%04X", d.IRAddress),
		Command:    fmt.Sprintf("0x%02X", d.IRCommand),
		Cheat:      d.CheatDetected,
		Time:       fmt.Sprintf("%02d:%02d:%02d", d.Hour, d.Minute, d.Second),
	}
	if d.DistanceMeters != 0xFFFF {
		distance := d.DistanceMeters
		report.Distance = &distance
	}
	return report
}

func (s *HTTPSink) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(NewTrackReport(msg))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("serialize report: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "irhit/1.0")
	req.Header.Set("X-Device-ID", msg.DeviceID)
	req.Header.Set("X-Message-ID", msg.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("HTTP status %d when sending report", resp.StatusCode))
	default:
		return fmt.Errorf("HTTP status %d when sending report", resp.StatusCode)
	}
}
