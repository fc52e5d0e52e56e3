// Package link carries hit packets from a reporter to its tracker with
// acknowledgment and retry.
package link

import (
	"errors"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

var (
	ErrUnknownPeer  = errors.New("peer not registered")
	ErrRadioStopped = errors.New("radio not running")
)

// PeerLink identifies the single tracker a reporter talks to. It is fixed at
// startup.
type PeerLink struct {
	Address protocol.HardwareAddr
	Channel int
}

// Completion is the radio's report that a frame was (or was not) delivered
// to the peer at the link level.
type Completion struct {
	Peer protocol.HardwareAddr
	Kind protocol.FrameKind
	Tag  uint8
	OK   bool
}

// Radio is the host transport behind the link. Transmit only enqueues; the
// outcome arrives later through the completion handler, which runs on the
// radio's own goroutine.
type Radio interface {
	Transmit(dst protocol.HardwareAddr, frame []byte) error
	SetCompletionHandler(handler func(Completion))
}

// ReceiveHandler is called for every data frame delivered to this node.
type ReceiveHandler func(src protocol.HardwareAddr, frame []byte)
