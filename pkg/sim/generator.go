package sim

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Shooter is a transmitter that may hit this helmet.
type Shooter struct {
	Address uint16 `json:"address"`
	Command uint8  `json:"command"`
}

// Generator fires random shots at a receiver and now and then covers the
// sensor, for demo runs without hardware.
type Generator struct {
	nodeID    string
	receiver  *IrReceiver
	sensor    *CoverageSensor
	roster    []Shooter
	interval  time.Duration
	cheatRate float64
	coverFor  time.Duration

	running bool
	stopCh  chan struct{}
	mutex   sync.Mutex
	rng     *rand.Rand

	shots  atomic.Uint64
	cheats atomic.Uint64
}

func NewGenerator(nodeID string, receiver *IrReceiver, sensor *CoverageSensor, roster []Shooter, interval time.Duration) *Generator {
	if len(roster) == 0 {
		roster = []Shooter{{Address: 0x00A1, Command: 0x01}, {Address: 0x00B2, Command: 0x02}, {Address: 0x00C3, Command: 0x03}}
	}
	return &Generator{
		nodeID:    nodeID,
		receiver:  receiver,
		sensor:    sensor,
		roster:    roster,
		interval:  interval,
		cheatRate: 0.1,
		coverFor:  300 * time.Millisecond,
		stopCh:    make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Generator) Start() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.running {
		return
	}
	g.running = true
	log.WithFields(log.Fields{"node": g.nodeID, "interval": g.interval}).Info("[GENERATOR] starting simulated shots")

	go g.loop()
}

func (g *Generator) Stop() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if !g.running {
		return
	}
	g.running = false
	close(g.stopCh)
	log.WithField("node", g.nodeID).Info("[GENERATOR] stopping simulated shots")
}

func (g *Generator) loop() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Step()
		case <-g.stopCh:
			return
		}
	}
}

// Step fires one shot, sometimes while the sensor is covered.
func (g *Generator) Step() Shooter {
	g.mutex.Lock()
	shooter := g.roster[g.rng.Intn(len(g.roster))]
	cheat := g.sensor != nil && g.rng.Float64() < g.cheatRate
	g.mutex.Unlock()

	if cheat {
		g.cheats.Add(1)
		g.sensor.Cover(true)
		time.AfterFunc(g.coverFor, func() { g.sensor.Cover(false) })
		log.WithField("node", g.nodeID).Debug("[GENERATOR] covering sensor")
	}

	g.receiver.Fire(shooter.Address, shooter.Command)
	g.shots.Add(1)
	log.WithFields(log.Fields{
		"node":    g.nodeID,
		"address": shooter.Address,
		"command": shooter.Command,
	}).Debug("[GENERATOR] shot fired")
	return shooter
}

func (g *Generator) GetStats() map[string]interface{} {
	g.mutex.Lock()
	running := g.running
	g.mutex.Unlock()

	return map[string]interface{}{
		"node_id":      g.nodeID,
		"running":      running,
		"interval_sec": g.interval.Seconds(),
		"roster":       len(g.roster),
		"shots":        g.shots.Load(),
		"cheats":       g.cheats.Load(),
	}
}
