package tcp

import "testing"

// newTestConn returns a Conn with a fresh event bus, ready for direct
// send/recv exercise without going through the blocking socket API --
// mirroring the teacher's own ControlBlock.HelperInitState style of driving
// the state machine straight from a test, rather than over a real wire.
func newTestConn() *Conn {
	c := &Conn{}
	c.initialize()
	return c
}

// TestActiveOpenHandshake drives the client side of RFC 9293 figure 6's
// three-way handshake directly through send/recv, without a peer Conn.
func TestActiveOpenHandshake(t *testing.T) {
	const issA, issB, windowA, windowB Value = 100, 300, 1000, 1000

	c := newTestConn()
	c.resetRcv(Size(windowA), 0)
	if err := c.send(Segment{SEQ: issA, Flags: FlagSYN, WND: windowA}); err != nil {
		t.Fatalf("send SYN: %v", err)
	}
	if c.state != StateSynSent {
		t.Fatalf("state after SYN = %v, want SYN-SENT", c.state)
	}

	err := c.recv(Segment{SEQ: issB, ACK: issA + 1, Flags: synack, WND: windowB})
	if err != nil {
		t.Fatalf("recv SYNACK: %v", err)
	}
	if c.state != StateEstablished {
		t.Fatalf("state after SYNACK = %v, want ESTABLISHED", c.state)
	}
	if c.events.signaled(EventConnected) == 0 {
		t.Error("EventConnected was not signaled on handshake completion")
	}
	if c.events.signaled(EventTxReady) == 0 {
		t.Error("EventTxReady was not signaled on handshake completion")
	}

	seg, ok := c.PendingSegment(0)
	if !ok || seg.Flags != FlagACK {
		t.Fatalf("PendingSegment after SYNACK = %+v, %v, want a bare ACK", seg, ok)
	}
	if err := c.send(seg); err != nil {
		t.Fatalf("send final ACK: %v", err)
	}
	if c.HasPending() {
		t.Error("pending flags remain after sending the final handshake ACK")
	}
}

// TestPassiveOpenHandshake drives the listener side of the same handshake:
// a SYN arrives in LISTEN, producing a SYN-ACK to send, followed by the
// peer's final ACK completing the three-way handshake.
func TestPassiveOpenHandshake(t *testing.T) {
	const issA, issB, windowA, windowB Value = 100, 300, 1000, 1000

	c := newTestConn()
	c.state = StateListen
	c.resetSnd(issB, 0)
	c.resetRcv(Size(windowB), 0)

	err := c.recv(Segment{SEQ: issA, Flags: FlagSYN, WND: windowA})
	if err != nil {
		t.Fatalf("recv SYN: %v", err)
	}
	if c.state != StateSynRcvd {
		t.Fatalf("state after SYN = %v, want SYN-RECEIVED", c.state)
	}

	seg, ok := c.PendingSegment(0)
	if !ok || seg.Flags != synack {
		t.Fatalf("PendingSegment after SYN = %+v, %v, want SYN|ACK", seg, ok)
	}
	if err := c.send(seg); err != nil {
		t.Fatalf("send SYNACK: %v", err)
	}

	err = c.recv(Segment{SEQ: issA + 1, ACK: issB + 1, Flags: FlagACK, WND: windowA})
	if err != nil {
		t.Fatalf("recv final ACK: %v", err)
	}
	if c.state != StateEstablished {
		t.Fatalf("state after final ACK = %v, want ESTABLISHED", c.state)
	}
}

// TestRSTTearsDownEstablishedConnection checks that an in-window RST
// arriving on an established connection resets it to CLOSED and signals
// EventClosed for a blocked Receive/Send to wake up on (spec's "peer sends
// RST" scenario).
func TestRSTTearsDownEstablishedConnection(t *testing.T) {
	const localISS, peerISS Value = 500, 900

	c := newTestConn()
	c.state = StateEstablished
	c.resetSnd(localISS, 2000)
	c.resetRcv(2000, peerISS)

	err := c.recv(Segment{SEQ: peerISS, Flags: FlagRST})
	if err == nil {
		t.Fatal("recv RST: expected an error signaling connection reset")
	}
	if c.state != StateClosed {
		t.Fatalf("state after RST = %v, want CLOSED", c.state)
	}
	if !c.resetFlg {
		t.Error("resetFlg not set after RST on an established connection")
	}
	if c.events.signaled(EventClosed) == 0 {
		t.Error("EventClosed was not signaled after RST")
	}
}

// TestGracefulShutdownFromEstablished drives ESTABLISHED -> FIN-WAIT-1 ->
// TIME-WAIT via an active close against a peer that also wants to close,
// exercising rcvFinWait1's branch for a FIN|ACK that acknowledges our FIN.
func TestGracefulShutdownFromEstablished(t *testing.T) {
	const selfSeq, peerSeq Value = 500, 900

	c := newTestConn()
	c.state = StateEstablished
	c.resetSnd(selfSeq, 2000)
	c.resetRcv(2000, peerSeq)

	if err := c.send(Segment{SEQ: selfSeq, ACK: peerSeq, Flags: finack, WND: 2000}); err != nil {
		t.Fatalf("send FIN: %v", err)
	}
	if c.state != StateFinWait1 {
		t.Fatalf("state after sending FIN = %v, want FIN-WAIT-1", c.state)
	}

	// Peer simultaneously sends its own FIN, acking ours.
	err := c.recv(Segment{SEQ: peerSeq, ACK: selfSeq + 1, Flags: finack, WND: 2000})
	if err != nil {
		t.Fatalf("recv FIN|ACK: %v", err)
	}
	if c.state != StateTimeWait {
		t.Fatalf("state after simultaneous FIN|ACK = %v, want TIME-WAIT", c.state)
	}
	if c.tm.timeWaitAt.IsZero() {
		t.Error("2MSL timer was not armed on entry to TIME-WAIT")
	}
}

// TestAbortFromEstablished exercises the RST-and-teardown path Abort takes
// on a live connection.
func TestAbortFromEstablished(t *testing.T) {
	c := newTestConn()
	c.state = StateEstablished
	c.resetSnd(1, 0)
	c.resetRcv(0, 1)
	if errno := c.Abort(); errno != NoError {
		t.Fatalf("Abort() = %v, want NoError", errno)
	}
	if c.state != StateClosed {
		t.Fatalf("state after Abort = %v, want CLOSED", c.state)
	}
	if c.owned {
		t.Error("owned flag still set after Abort")
	}
}
