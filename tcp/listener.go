package tcp

import (
	"net/netip"
	"sync"
)

// synQueueItem is one pending half-open connection waiting to be drained by
// accept(). Ownership transfers to the accepting call, which returns the
// item to the pool once the child TCB has been initialized from it.
// Grounded on the teacher's tcp/listener.go Listener.incoming slice, but
// modeled per spec §3 as the ordered, pool-owned linked structure spec §9
// describes rather than a slice.
type synQueueItem struct {
	next       *synQueueItem
	remoteAddr netip.AddrPort
	localAddr  netip.AddrPort
	isn        Value
	mss        Size
}

var synQueueItemPool = sync.Pool{New: func() any { return new(synQueueItem) }}

// listenerState is the SYN-queue and backlog bookkeeping a TCB in LISTEN
// owns. Grounded on the teacher's Listener type (tcp/listener.go): a bounded
// FIFO of admitted half-SYNs, drained by Accept with the mutex hand-off
// pattern spec §9 describes.
type listenerState struct {
	head, tail *synQueueItem
	size       int
	backlog    int
}

func newListenerState(backlog int) *listenerState {
	return &listenerState{backlog: clampBacklog(backlog)}
}

func clampBacklog(n int) int {
	switch {
	case n <= 0:
		return DefaultSynQueueSize
	case n > MaxSynQueueSize:
		return MaxSynQueueSize
	default:
		return n
	}
}

// reclamp re-clamps the backlog in place (LISTEN -> LISTEN re-call idempotence,
// spec §8's listen/listen round-trip test and §9 Open Question 3's resolution).
func (l *listenerState) reclamp(backlog int) {
	l.backlog = clampBacklog(backlog)
}

// enqueue admits a new half-open SYN, silently dropping it if the queue is
// at its backlog bound (spec §7: "drop SYN silently on queue-full").
// Caller must hold the owning Conn's mutex.
func (l *listenerState) enqueue(remote, local netip.AddrPort, isn Value, mss Size) bool {
	if l.size >= l.backlog {
		return false
	}
	item := synQueueItemPool.Get().(*synQueueItem)
	*item = synQueueItem{remoteAddr: remote, localAddr: local, isn: isn, mss: mss}
	if l.tail == nil {
		l.head, l.tail = item, item
	} else {
		l.tail.next = item
		l.tail = item
	}
	l.size++
	return true
}

// dequeue pops the head item. Caller must hold the owning Conn's mutex.
func (l *listenerState) dequeue() (*synQueueItem, bool) {
	if l.head == nil {
		return nil, false
	}
	item := l.head
	l.head = item.next
	if l.head == nil {
		l.tail = nil
	}
	l.size--
	item.next = nil
	return item, true
}

func releaseSynQueueItem(item *synQueueItem) {
	*item = synQueueItem{}
	synQueueItemPool.Put(item)
}

// NumberReadyToAccept returns the number of half-open SYNs queued.
func (c *Conn) NumberReadyToAccept() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return 0
	}
	return c.listener.size
}

// EnqueueSYN is called by the segment-handler collaborator (the
// received-segment demultiplexer, out of scope here) when an inbound SYN
// arrives at a listening port. Holds NET_MUTEX for the duration; dropping
// silently on a full queue is the contract, never an error return.
func (c *Conn) EnqueueSYN(remote, local netip.AddrPort, isn Value, mss Size) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateListen || c.listener == nil {
		return
	}
	if c.listener.enqueue(remote, local, isn, mss) {
		c.events.set(EventRxReady)
	}
}
