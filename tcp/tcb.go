package tcp

import (
	"net/netip"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Tunable constants, bit-exact with the specification.
const (
	DefaultMSS = 536
	MaxMSS     = 1430

	InitialWindow       = 3
	InitialRTO          = 1000 * time.Millisecond
	OverrideTimeout     = 500 * time.Millisecond
	MaxSynQueueSize     = 16
	DefaultSynQueueSize = 4
	MaxRxBufferSize     = 22880
	MaxTxBufferSize     = 22880

	// twoMSL is the TIME-WAIT dwell time before a TCB is reclaimed.
	twoMSL = 60 * time.Second
)

// sendSpace holds the Send Sequence Space (RFC 9293 §3.3.1), corresponding
// to local data being sent.
type sendSpace struct {
	ISS  Value
	UNA  Value
	NXT  Value
	WND  Size
	USER Size // bytes buffered by the user but not yet assigned a sequence number.
}

func (snd *sendSpace) inFlight() Size { return Sizeof(snd.UNA, snd.NXT) }
func (snd *sendSpace) maxSend() Size {
	inFlight := snd.inFlight()
	if inFlight >= snd.WND {
		return 0
	}
	return snd.WND - inFlight
}

// recvSpace holds the Receive Sequence Space, corresponding to remote data
// being received.
type recvSpace struct {
	IRS  Value
	NXT  Value
	WND  Size
	USER Size // bytes delivered to rx_buffer but not yet read by the user.
}

// timers holds the per-connection timer deadlines the timer-processing
// thread sweeps (spec §5's "timer-processing thread"). A zero deadline means
// the timer is disarmed.
type timers struct {
	rto         time.Time
	rtoDuration time.Duration
	override    time.Time
	persist     time.Time
	timeWaitAt  time.Time
}

// Conn is a connection's control block: the state spec.md §3's data model
// names (sequence spaces, congestion variables, timers, buffers, event bus)
// plus the identity and collaborator wiring needed to exercise it. Unlike
// the teacher, which splits this across ControlBlock (sequence logic) and
// Handler (buffers/ports), the data model here puts every field directly on
// one control block, so the split is collapsed into a single type.
type Conn struct {
	mu sync.Mutex
	logger

	id xid.ID

	state        State
	snd          sendSpace
	rcv          recvSpace
	rstPtr       Value
	pending      [2]Flags
	challengeAck bool

	cong congestion
	tm   timers

	localAddr  netip.AddrPort
	remoteAddr netip.AddrPort

	buf sideBuffers

	owned    bool
	resetFlg bool

	events *eventBus

	wire      Wire
	addrSel   AddressSelector
	scheduler SegmentScheduler

	timeout time.Duration

	// cfgTxSize/cfgRxSize are the side-buffer sizes this socket was
	// configured with; Listen's accepted children inherit them rather than
	// re-deriving sizes from the listening socket's own (possibly zero)
	// buffers.
	cfgTxSize int
	cfgRxSize int

	// listener is non-nil only for a TCB in LISTEN state; it owns the
	// bounded SYN queue drained by Accept.
	listener *listenerState

	table *Table
}

// ID returns the connection's globally unique, sortable identity, assigned
// once at construction time. Doubles as the metrics collector's series
// label and the socket table's map key, so it must be stable and unique
// from the moment a Conn is registered, not just once it has buffers.
func (c *Conn) ID() xid.ID { return c.id }

// initialize resets a Conn to the CLOSED pseudo-state with default tunables,
// per spec §4.1's initialize(tcb) operation.
func (c *Conn) initialize() {
	c.id = xid.New()
	c.state = StateClosed
	c.snd = sendSpace{}
	c.rcv = recvSpace{}
	c.pending = [2]Flags{}
	c.challengeAck = false
	c.cong = congestion{ssthresh: 0xFFFF}
	c.tm = timers{rtoDuration: InitialRTO}
	c.resetFlg = false
	c.events = newEventBus(&c.mu)
}

// allocateBuffers materializes the TX/RX side-buffers. Returns
// ErrOutOfResources on allocation failure, leaving the TCB CLOSED/unused.
func (c *Conn) allocateBuffers(txSize, rxSize int) Errno {
	if txSize <= 0 || txSize > MaxTxBufferSize || rxSize <= 0 || rxSize > MaxRxBufferSize {
		return ErrOutOfResources
	}
	c.buf.allocate(txSize, rxSize)
	return NoError
}

// deleteControlBlock releases buffers and clears transient state, per spec
// §4.1's delete_control_block(tcb) operation.
func (c *Conn) deleteControlBlock() {
	c.buf.release()
	c.state = StateClosed
	c.snd = sendSpace{}
	c.rcv = recvSpace{}
	c.pending = [2]Flags{}
	c.owned = false
	c.debug("tcb:delete", "id", c.id.String())
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetLocalAddr returns the address/port this socket is bound to.
func (c *Conn) GetLocalAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAddr
}

// GetRemoteAddr returns the peer address/port, zero-value if unconnected.
func (c *Conn) GetRemoteAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// LocalAddrLocked and RemoteAddrLocked are the non-locking counterparts of
// GetLocalAddr/GetRemoteAddr, for use only from within a SegmentScheduler's
// Notify (which always runs with c.mu already held).
func (c *Conn) LocalAddrLocked() netip.AddrPort  { return c.localAddr }
func (c *Conn) RemoteAddrLocked() netip.AddrPort { return c.remoteAddr }

// BufferedUnsentLocked and PeekUnsentLocked let a SegmentScheduler read (but
// not consume) the TX buffer while building the payload for a segment
// PendingSegment just authorized; both assume c.mu is already held. The TX
// buffer drains only on ACK, so both cover sent-but-unacknowledged bytes too,
// and PeekUnsentLocked copies from the oldest unacknowledged byte (snd.UNA).
func (c *Conn) BufferedUnsentLocked() int { return c.buf.BufferedUnsent() }

func (c *Conn) PeekUnsentLocked(dst []byte) int {
	if c.buf.tx == nil {
		return 0
	}
	n, _ := c.buf.tx.Peek(dst)
	return n
}

// Stats is a point-in-time snapshot of the fields metrics.Collector exports.
// Exporting a flat struct keeps the metrics package from reaching into
// unexported TCB fields across the package boundary.
type Stats struct {
	ID            string
	State         State
	Cwnd          uint32
	Ssthresh      uint32
	RTO           time.Duration
	BytesInFlight uint32
	Retransmits   uint32
	LocalAddr     netip.AddrPort
	RemoteAddr    netip.AddrPort
}

func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ID:            c.id.String(),
		State:         c.state,
		Cwnd:          uint32(c.cong.cwnd),
		Ssthresh:      uint32(c.cong.ssthresh),
		RTO:           c.tm.rtoDuration,
		BytesInFlight: uint32(c.snd.inFlight()),
		Retransmits:   c.cong.retransmits,
		LocalAddr:     c.localAddr,
		RemoteAddr:    c.remoteAddr,
	}
}

func (c *Conn) prepareToHandshake(iss Value, wnd Size) {
	c.resetRcv(wnd, 0)
	c.resetSnd(iss, 0)
	c.pending = [2]Flags{}
}

func (c *Conn) resetSnd(localISS Value, remoteWND Size) {
	c.snd = sendSpace{ISS: localISS, UNA: localISS, NXT: localISS, WND: remoteWND}
}

func (c *Conn) resetRcv(localWND Size, remoteISS Value) {
	c.rcv = recvSpace{IRS: remoteISS, NXT: remoteISS, WND: localWND}
}

// close forces CLOSED, clears sequence state and signals EventClosed; used by
// FSM transitions that tear the connection down (peer RST, final ACK in
// LAST-ACK). Abort uses deleteControlBlock instead.
func (c *Conn) close() {
	c.state = StateClosed
	c.pending = [2]Flags{}
	c.resetRcv(0, 0)
	c.resetSnd(0, 0)
	c.events.set(EventClosed)
	c.debug("tcb:close", "id", c.id.String())
}
