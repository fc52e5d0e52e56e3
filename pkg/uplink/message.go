// Package uplink hands encoded payloads to the long-range uplink service.
//
// The LoRaWAN stack is treated as a black box that accepts a payload; on a
// host it is stood in for by a Redis broker and/or an HTTP collector.
package uplink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/irhit/pkg/payload"
)

// Message is one uplink, carrying the raw payload and its decoded view.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	DeviceID  string         `json:"device_id"`
	Payload   []byte         `json:"payload"`
	Decoded   payload.Uplink `json:"decoded"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage wraps data after checking that it decodes.
func NewMessage(deviceID string, data []byte, at time.Time) (Message, error) {
	decoded, err := payload.Decode(data)
	if err != nil {
		return Message{}, fmt.Errorf("build uplink message: %w", err)
	}
	return Message{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Payload:   append([]byte(nil), data...),
		Decoded:   decoded,
		CreatedAt: at,
	}, nil
}

// Sink delivers messages somewhere.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// Joiner is a sink that needs a session before publishing.
type Joiner interface {
	Join(ctx context.Context) error
}

// FormatDeviceID renders a numeric device address the way the network
// server shows it.
func FormatDeviceID(id uint32) string {
	return fmt.Sprintf("%08X", id)
}
