package link

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

// Datagram layout: Channel(1) | Source(6) | Frame.
const envelopeHeader = 1 + len(protocol.HardwareAddr{})

// UDPRadio emulates a connectionless peer-to-peer radio over UDP. Every
// hardware address maps to a UDP endpoint. Data frames received on the
// configured channel are answered with a link-level ack, and acks for our
// own frames are reported through the completion handler.
type UDPRadio struct {
	self      protocol.HardwareAddr
	channel   int
	listen    string
	peerTable *PeerTable

	conn    *net.UDPConn
	running atomic.Bool

	mu         sync.RWMutex
	peers      map[protocol.HardwareAddr]*net.UDPAddr
	onComplete func(Completion)
	onReceive  ReceiveHandler

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	acksIn    atomic.Uint64
	acksOut   atomic.Uint64
	dropped   atomic.Uint64
}

// NewUDPRadio creates a radio bound to listen once started. peerTable may be
// nil.
func NewUDPRadio(self protocol.HardwareAddr, channel int, listen string, peerTable *PeerTable) *UDPRadio {
	return &UDPRadio{
		self:      self,
		channel:   channel,
		listen:    listen,
		peerTable: peerTable,
		peers:     make(map[protocol.HardwareAddr]*net.UDPAddr),
	}
}

// AddPeer maps a hardware address to a UDP endpoint.
func (r *UDPRadio) AddPeer(addr protocol.HardwareAddr, endpoint string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("resolve peer %s endpoint %q: %w", addr, endpoint, err)
	}
	r.mu.Lock()
	r.peers[addr] = udpAddr
	r.mu.Unlock()
	return nil
}

func (r *UDPRadio) SetCompletionHandler(handler func(Completion)) {
	r.mu.Lock()
	r.onComplete = handler
	r.mu.Unlock()
}

func (r *UDPRadio) SetReceiveHandler(handler ReceiveHandler) {
	r.mu.Lock()
	r.onReceive = handler
	r.mu.Unlock()
}

// Start opens the socket and starts the read loop.
func (r *UDPRadio) Start() error {
	addr, err := net.ResolveUDPAddr("udp", r.listen)
	if err != nil {
		return fmt.Errorf("resolve listen address %q: %w", r.listen, err)
	}

	r.conn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", r.listen, err)
	}

	r.running.Store(true)
	log.WithFields(log.Fields{
		"self":    r.self.String(),
		"channel": r.channel,
		"listen":  r.conn.LocalAddr().String(),
	}).Info("[RADIO] started")

	go r.readLoop()
	return nil
}

// Stop closes the socket.
func (r *UDPRadio) Stop() error {
	if !r.running.Swap(false) {
		return nil
	}
	return r.conn.Close()
}

// LocalAddr returns the bound socket address, or nil before Start.
func (r *UDPRadio) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Transmit sends frame to dst.
func (r *UDPRadio) Transmit(dst protocol.HardwareAddr, frame []byte) error {
	if !r.running.Load() {
		return ErrRadioStopped
	}

	r.mu.RLock()
	endpoint, ok := r.peers[dst]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", dst, ErrUnknownPeer)
	}

	if err := r.write(endpoint, frame); err != nil {
		return err
	}
	r.framesOut.Add(1)
	return nil
}

func (r *UDPRadio) write(to *net.UDPAddr, frame []byte) error {
	datagram := make([]byte, envelopeHeader+len(frame))
	datagram[0] = byte(r.channel)
	copy(datagram[1:envelopeHeader], r.self[:])
	copy(datagram[envelopeHeader:], frame)

	if _, err := r.conn.WriteToUDP(datagram, to); err != nil {
		return fmt.Errorf("write to %s: %w", to, err)
	}
	return nil
}

func (r *UDPRadio) readLoop() {
	buffer := make([]byte, 512)

	for r.running.Load() {
		n, from, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if r.running.Load() {
				log.WithError(err).Warn("[RADIO] read failed")
			}
			continue
		}
		datagram := append([]byte(nil), buffer[:n]...)
		r.handleDatagram(datagram, from)
	}
}

func (r *UDPRadio) handleDatagram(datagram []byte, from *net.UDPAddr) {
	if len(datagram) <= envelopeHeader {
		r.dropped.Add(1)
		return
	}
	if int(datagram[0]) != r.channel {
		r.dropped.Add(1)
		return
	}

	var src protocol.HardwareAddr
	copy(src[:], datagram[1:envelopeHeader])
	frame := datagram[envelopeHeader:]

	if r.peerTable != nil {
		r.peerTable.Touch(src, time.Now())
	}

	r.mu.RLock()
	onComplete, onReceive := r.onComplete, r.onReceive
	r.mu.RUnlock()

	switch protocol.Classify(frame) {
	case protocol.KindAck:
		ack, _ := protocol.DecodeAck(frame)
		r.acksIn.Add(1)
		if onComplete != nil {
			onComplete(Completion{Peer: src, Kind: ack.Kind, Tag: ack.Tag, OK: true})
		}

	case protocol.KindHit, protocol.KindStatus:
		r.framesIn.Add(1)
		if ack, ok := protocol.AckFor(frame); ok {
			if err := r.write(from, protocol.EncodeAck(ack)); err != nil {
				log.WithError(err).Debug("[RADIO] ack failed")
			} else {
				r.acksOut.Add(1)
			}
		}
		if onReceive != nil {
			onReceive(src, frame)
		}

	default:
		r.dropped.Add(1)
	}
}

func (r *UDPRadio) GetStats() map[string]interface{} {
	r.mu.RLock()
	peers := len(r.peers)
	r.mu.RUnlock()

	return map[string]interface{}{
		"self":       r.self.String(),
		"channel":    r.channel,
		"running":    r.running.Load(),
		"peers":      peers,
		"frames_in":  r.framesIn.Load(),
		"frames_out": r.framesOut.Load(),
		"acks_in":    r.acksIn.Load(),
		"acks_out":   r.acksOut.Load(),
		"dropped":    r.dropped.Load(),
	}
}
