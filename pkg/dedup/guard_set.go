package dedup

import (
	"sync"
	"time"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

// GuardSet keeps one SequenceGuard per sender, evicting the least recently
// heard sender once capacity is reached.
type GuardSet struct {
	capacity int
	window   time.Duration
	guards   map[protocol.HardwareAddr]*guardNode
	head     *guardNode
	tail     *guardNode
	mutex    sync.Mutex

	accepted   uint64
	duplicates uint64
	evicted    uint64
}

// guardNode is an entry of the recency list.
type guardNode struct {
	key   protocol.HardwareAddr
	guard *SequenceGuard
	prev  *guardNode
	next  *guardNode
}

func NewGuardSet(capacity int, window time.Duration) *GuardSet {
	if capacity <= 0 {
		capacity = 64
	}

	head := &guardNode{}
	tail := &guardNode{}
	head.next = tail
	tail.prev = head

	return &GuardSet{
		capacity: capacity,
		window:   window,
		guards:   make(map[protocol.HardwareAddr]*guardNode),
		head:     head,
		tail:     tail,
	}
}

// Accept runs seq through the guard of sender.
func (gs *GuardSet) Accept(sender protocol.HardwareAddr, seq uint8, now time.Time) bool {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()

	node, exists := gs.guards[sender]
	if exists {
		gs.moveToHead(node)
	} else {
		node = &guardNode{key: sender, guard: NewSequenceGuard(gs.window)}
		gs.guards[sender] = node
		gs.addToHead(node)

		if len(gs.guards) > gs.capacity {
			last := gs.removeTail()
			delete(gs.guards, last.key)
			gs.evicted++
		}
	}

	if !node.guard.Accept(seq, now) {
		gs.duplicates++
		return false
	}
	gs.accepted++
	return true
}

// Size returns the number of tracked senders.
func (gs *GuardSet) Size() int {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	return len(gs.guards)
}

func (gs *GuardSet) GetStats() map[string]interface{} {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()

	return map[string]interface{}{
		"senders":    len(gs.guards),
		"capacity":   gs.capacity,
		"accepted":   gs.accepted,
		"duplicates": gs.duplicates,
		"evicted":    gs.evicted,
		"window":     gs.window.String(),
	}
}

func (gs *GuardSet) addToHead(node *guardNode) {
	node.prev = gs.head
	node.next = gs.head.next
	gs.head.next.prev = node
	gs.head.next = node
}

func (gs *GuardSet) removeNode(node *guardNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (gs *GuardSet) moveToHead(node *guardNode) {
	gs.removeNode(node)
	gs.addToHead(node)
}

func (gs *GuardSet) removeTail() *guardNode {
	last := gs.tail.prev
	gs.removeNode(last)
	return last
}
