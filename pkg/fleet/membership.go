// Package fleet tracks which reporters and trackers are alive on the
// operator network using SWIM gossip.
package fleet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	log "github.com/sirupsen/logrus"
)

// NodeMeta is gossiped with every member.
type NodeMeta struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	HardwareAddr string `json:"hw"`
	API          string `json:"api,omitempty"`
}

// Member is a live node as seen locally.
type Member struct {
	Name string   `json:"name"`
	Addr string   `json:"addr"`
	Meta NodeMeta `json:"meta"`
}

// events logs membership changes.
type events struct {
	nodeID string
}

func (e *events) NotifyJoin(n *memberlist.Node) {
	if n.Name != e.nodeID {
		log.WithFields(log.Fields{"member": n.Name, "addr": n.Address()}).Info("[FLEET] member joined")
	}
}

func (e *events) NotifyLeave(n *memberlist.Node) {
	log.WithField("member", n.Name).Info("[FLEET] member left")
}

func (e *events) NotifyUpdate(n *memberlist.Node) {
	log.WithField("member", n.Name).Debug("[FLEET] member updated")
}

// metaDelegate only publishes node metadata; no user messages are gossiped.
type metaDelegate struct {
	meta []byte
}

func (d *metaDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return nil
	}
	return d.meta
}

func (d *metaDelegate) NotifyMsg([]byte)                           {}
func (d *metaDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *metaDelegate) LocalState(join bool) []byte                { return nil }
func (d *metaDelegate) MergeRemoteState(buf []byte, join bool)     {}

// Config configures the membership.
type Config struct {
	Meta     NodeMeta
	BindAddr string
	BindPort int
	Seeds    []string
}

// Membership wraps a memberlist instance.
type Membership struct {
	ml   *memberlist.Memberlist
	meta NodeMeta
}

// New creates the memberlist and joins any seeds. A failed join is logged
// and not fatal; the node keeps running alone until someone joins it.
func New(config Config) (*Membership, error) {
	meta, err := json.Marshal(config.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode node meta: %w", err)
	}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = config.Meta.ID
	cfg.BindAddr = config.BindAddr
	cfg.BindPort = config.BindPort
	cfg.AdvertisePort = config.BindPort
	cfg.Events = &events{nodeID: config.Meta.ID}
	cfg.Delegate = &metaDelegate{meta: meta}
	cfg.LogOutput = log.StandardLogger().WriterLevel(log.DebugLevel)

	cfg.PushPullInterval = 30 * time.Second
	cfg.ProbeTimeout = time.Second
	cfg.ProbeInterval = 5 * time.Second

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}

	m := &Membership{ml: ml, meta: config.Meta}
	if len(config.Seeds) > 0 {
		if n, err := ml.Join(config.Seeds); err != nil {
			log.WithError(err).WithField("seeds", config.Seeds).Warn("[FLEET] could not join seeds")
		} else {
			log.WithField("joined", n).Info("[FLEET] joined cluster")
		}
	}
	return m, nil
}

// Join contacts one more node.
func (m *Membership) Join(addr string) error {
	if _, err := m.ml.Join([]string{addr}); err != nil {
		return fmt.Errorf("join %s: %w", addr, err)
	}
	return nil
}

// Members returns every live node other than this one.
func (m *Membership) Members() []Member {
	all := m.ml.Members()
	members := make([]Member, 0, len(all))
	for _, n := range all {
		if n.Name == m.meta.ID {
			continue
		}
		member := Member{Name: n.Name, Addr: n.Address()}
		if err := json.Unmarshal(n.Meta, &member.Meta); err != nil {
			member.Meta = NodeMeta{ID: n.Name}
		}
		members = append(members, member)
	}
	return members
}

// MembersWithRole filters Members by role.
func (m *Membership) MembersWithRole(role string) []Member {
	var out []Member
	for _, member := range m.Members() {
		if member.Meta.Role == role {
			out = append(out, member)
		}
	}
	return out
}

// LocalAddr is the gossip address of this node.
func (m *Membership) LocalAddr() string {
	return m.ml.LocalNode().Address()
}

// Leave announces departure and shuts the memberlist down.
func (m *Membership) Leave(timeout time.Duration) error {
	if err := m.ml.Leave(timeout); err != nil {
		log.WithError(err).Warn("[FLEET] leave failed")
	}
	if err := m.ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	return nil
}

func (m *Membership) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"node_id":       m.meta.ID,
		"role":          m.meta.Role,
		"total_members": m.ml.NumMembers(),
		"live_members":  len(m.Members()),
		"local_addr":    m.LocalAddr(),
	}
}
