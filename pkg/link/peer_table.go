package link

import (
	"context"
	"sync"
	"time"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

// Peer is a remote node heard on the link.
type Peer struct {
	Address  protocol.HardwareAddr `json:"address"`
	LastSeen time.Time             `json:"last_seen"`
	Frames   uint64                `json:"frames"`
}

// PeerTable records which nodes have recently sent us frames.
type PeerTable struct {
	peers   map[protocol.HardwareAddr]*Peer
	mutex   sync.RWMutex
	timeout time.Duration
}

func NewPeerTable(timeout time.Duration) *PeerTable {
	return &PeerTable{
		peers:   make(map[protocol.HardwareAddr]*Peer),
		timeout: timeout,
	}
}

// Touch records a frame from addr.
func (pt *PeerTable) Touch(addr protocol.HardwareAddr, now time.Time) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	peer, ok := pt.peers[addr]
	if !ok {
		peer = &Peer{Address: addr}
		pt.peers[addr] = peer
	}
	peer.LastSeen = now
	peer.Frames++
}

// Active returns copies of the peers heard within the timeout.
func (pt *PeerTable) Active(now time.Time) []Peer {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	var active []Peer
	for _, peer := range pt.peers {
		if now.Sub(peer.LastSeen) < pt.timeout {
			active = append(active, *peer)
		}
	}
	return active
}

// Prune removes expired peers and returns how many were removed.
func (pt *PeerTable) Prune(now time.Time) int {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	removed := 0
	for addr, peer := range pt.peers {
		if now.Sub(peer.LastSeen) >= pt.timeout {
			delete(pt.peers, addr)
			removed++
		}
	}
	return removed
}

// Run prunes expired peers every second until ctx is cancelled.
func (pt *PeerTable) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pt.Prune(now)
		}
	}
}

func (pt *PeerTable) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"peers_active":    len(pt.Active(time.Now())),
		"timeout_seconds": pt.timeout.Seconds(),
	}
}
