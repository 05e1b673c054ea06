package tcp

import "net/netip"

// The engine treats the following concerns as external collaborators with
// narrow interfaces, per the stated scope: IP routing/source-address
// selection, segment wire encoding/decoding/checksumming, the Nagle
// coalescing decision and override-timer firing, retransmission-queue
// scanning, and received-segment demultiplexing/reassembly. None of these
// are reimplemented here; the engine only depends on the narrow contracts
// below, generalizing the teacher's own narrow `pool` interface in
// tcp/listener.go (a caller-supplied, minimal allocation contract) to the
// rest of the collaborators this spec names.

// Wire sends a fully-formed segment (header fields only; payload comes from
// the caller's side-buffer peek) to the network. Encoding, checksumming and
// framing are the collaborator's responsibility.
type Wire interface {
	SendSegment(local, remote netip.AddrPort, seg Segment, payload []byte) error
}

// AddressSelector picks a local source address compatible with a remote
// address, e.g. by consulting a routing table. Returns ok=false if no route
// exists, which connect() surfaces as ErrNotConfigured.
type AddressSelector interface {
	SelectSource(remote netip.Addr) (local netip.Addr, ok bool)
}

// SegmentScheduler decides when queued TX bytes become a segment (the Nagle
// coalescing decision) and is responsible for firing the override timer's
// effect (forcing a send of whatever is queued once armed). The engine calls
// Notify after every TX buffer mutation and after every processed inbound
// segment, always with c's own mutex already held: a Notify implementation
// must only call back into c's unlocked accessors (HasPending,
// PendingSegment, LocalAddrLocked, RemoteAddrLocked) and its own Wire, never
// into c's locking public API (Connect, Send, Receive, GetLocalAddr, ...),
// which would deadlock re-entering the mutex Notify is already running
// under.
type SegmentScheduler interface {
	Notify(c *Conn)
}

// RetransmitScanner is invoked by the timer thread to scan the retransmission
// queue (segments sent but not yet acknowledged) and resend what has expired.
// The engine does not retain a sent-segment queue itself; any collaborator
// that wants one can track it off of the Send/Recv event stream.
type RetransmitScanner interface {
	ScanAndRetransmit(c *Conn)
}

// Demuxer is handed a raw inbound segment; it is the received-segment
// demultiplexer, responsible for associating the segment with a connection
// in the socket table and handling reassembly of out-of-order data before
// calling Conn's internal Recv path. Only sequential segments reach the TCB
// (see RejectError: errRequireSequential), matching the teacher's own
// ControlBlock contract.
type Demuxer interface {
	Demux(seg Segment, payload []byte, local, remote netip.AddrPort) (*Conn, bool)
}

// LoopbackWire is a narrow, in-memory Wire/AddressSelector reference
// implementation — never mistaken for a production wire codec. It loops segments directly into a peer Conn's
// Recv path, skipping real encoding/checksumming/IP entirely.
type LoopbackWire struct {
	peer *Conn
}

// NewLoopbackWire returns a Wire that delivers every segment straight to peer.
func NewLoopbackWire(peer *Conn) *LoopbackWire { return &LoopbackWire{peer: peer} }

// SendSegment implements Wire by handing the segment to the peer's Recv path
// on a separate goroutine -- standing in for the segment-handler thread spec
// §5 places on the other side of the wire from the caller. This dispatch is
// not just style: SendSegment is typically called synchronously from inside
// a Conn method that is still holding that Conn's own mutex (e.g. a
// SegmentScheduler's Notify), and two loopback peers calling directly into
// each other's locked Recv path would deadlock the moment either side's
// handshake response loops back a segment to the original caller. A bare SYN
// addressed to a peer in LISTEN is routed through EnqueueSYN instead -- the
// one piece of demultiplexing behavior this reference collaborator has to
// emulate itself, since a real Demuxer (out of scope here) would otherwise
// be the one deciding that routing.
func (w *LoopbackWire) SendSegment(local, remote netip.AddrPort, seg Segment, payload []byte) error {
	if w.peer == nil {
		return nil
	}
	peer := w.peer
	go func() {
		if peer.State() == StateListen && seg.isFirstSYN() {
			peer.EnqueueSYN(remote, local, seg.SEQ, DefaultMSS)
			return
		}
		peer.deliver(seg, payload)
	}()
	return nil
}

// SelectSource implements AddressSelector by always returning the loopback address.
func (w *LoopbackWire) SelectSource(remote netip.Addr) (netip.Addr, bool) {
	if remote.Is6() {
		return netip.IPv6Loopback(), true
	}
	return netip.MustParseAddr("127.0.0.1"), true
}
