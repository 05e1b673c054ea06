package tcp

import (
	"net/netip"
	"testing"
)

func mustAddr(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

// TestSynQueueAdmissionBound checks that the SYN queue admits exactly its
// backlog's worth of half-open connections and silently drops the rest,
// per spec's "drop SYN silently on queue-full" rule.
func TestSynQueueAdmissionBound(t *testing.T) {
	c := newTestConn()
	c.state = StateListen
	c.listener = newListenerState(2)

	local := mustAddr("127.0.0.1:80")
	for i := 0; i < 4; i++ {
		remote := mustAddr("10.0.0.1:1000")
		c.EnqueueSYN(remote, local, Value(i), DefaultMSS)
	}

	if got := c.NumberReadyToAccept(); got != 2 {
		t.Fatalf("NumberReadyToAccept() = %d, want 2 (backlog bound)", got)
	}

	item, ok := c.listener.dequeue()
	if !ok || item.isn != 0 {
		t.Fatalf("first dequeued item = %+v, %v, want isn=0", item, ok)
	}
	releaseSynQueueItem(item)

	item, ok = c.listener.dequeue()
	if !ok || item.isn != 1 {
		t.Fatalf("second dequeued item = %+v, %v, want isn=1", item, ok)
	}
	releaseSynQueueItem(item)

	if _, ok := c.listener.dequeue(); ok {
		t.Error("dequeue succeeded past backlog bound, queue should be empty")
	}
}

// TestEnqueueSYNIgnoredOutsideListen checks that a SYN arriving at a
// not-currently-listening Conn is dropped rather than queued -- the listener
// may have been re-closed or not yet opened.
func TestEnqueueSYNIgnoredOutsideListen(t *testing.T) {
	c := newTestConn() // StateClosed, no listenerState
	c.EnqueueSYN(mustAddr("10.0.0.1:1000"), mustAddr("127.0.0.1:80"), 1, DefaultMSS)
	if got := c.NumberReadyToAccept(); got != 0 {
		t.Fatalf("NumberReadyToAccept() = %d, want 0 when not LISTEN", got)
	}
}

// TestListenBacklogReclampIdempotent exercises reclamp, the helper Listen
// uses on a LISTEN -> LISTEN re-call: a different backlog is re-clamped in
// place without disturbing already-queued connections.
func TestListenBacklogReclampIdempotent(t *testing.T) {
	l := newListenerState(2)
	if l.backlog != 2 {
		t.Fatalf("initial backlog = %d, want 2", l.backlog)
	}
	l.enqueue(mustAddr("10.0.0.1:1"), mustAddr("127.0.0.1:80"), 1, DefaultMSS)

	l.reclamp(8)
	if l.backlog != 8 {
		t.Fatalf("backlog after reclamp(8) = %d, want 8", l.backlog)
	}
	if l.size != 1 {
		t.Fatalf("size after reclamp = %d, want 1 (unchanged)", l.size)
	}

	l.reclamp(0)
	if l.backlog != DefaultSynQueueSize {
		t.Fatalf("backlog after reclamp(0) = %d, want default %d", l.backlog, DefaultSynQueueSize)
	}

	l.reclamp(MaxSynQueueSize + 100)
	if l.backlog != MaxSynQueueSize {
		t.Fatalf("backlog after reclamp(overflow) = %d, want max %d", l.backlog, MaxSynQueueSize)
	}
}
