package tcp

import (
	"log/slog"
	"net/netip"
	"time"
)

// ShutdownHow selects which half of the connection shutdown() closes.
type ShutdownHow uint8

const (
	ShutdownSend ShutdownHow = iota
	ShutdownReceive
	ShutdownBoth
)

// SendFlag modifies Send's behavior.
type SendFlag uint8

const (
	NoDelay SendFlag = 1 << iota
	WaitAck
	Push
)

// SocketConfig configures a new socket, in the teacher's plain-struct
// ConnConfig/TCPConnConfig style (tcp/conn.go) rather than functional
// options, since the teacher never reaches for that indirection either.
type SocketConfig struct {
	LocalAddr    netip.AddrPort
	TxBufferSize int
	RxBufferSize int
	Timeout      time.Duration
	RTO          time.Duration
	Logger       *slog.Logger
}

func (cfg SocketConfig) withDefaults() SocketConfig {
	if cfg.TxBufferSize <= 0 {
		cfg.TxBufferSize = MaxTxBufferSize
	}
	if cfg.RxBufferSize <= 0 {
		cfg.RxBufferSize = MaxRxBufferSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RTO <= 0 {
		cfg.RTO = InitialRTO
	}
	return cfg
}

// NewSocket allocates an unconnected Conn in the CLOSED state, registered
// with table. The caller must still assign Wire/AddressSelector/Scheduler
// collaborators before calling Connect or Listen.
func NewSocket(table *Table, cfg SocketConfig) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		localAddr: cfg.LocalAddr,
		owned:     true,
		timeout:   cfg.Timeout,
		table:     table,
	}
	c.SetLogger(cfg.Logger)
	c.initialize()
	c.tm.rtoDuration = cfg.RTO
	c.cfgTxSize, c.cfgRxSize = cfg.TxBufferSize, cfg.RxBufferSize
	if table != nil {
		table.register(c)
	}
	return c
}

// SetCollaborators wires the external collaborators the core depends on but
// does not implement (wire I/O, routing, Nagle/override firing).
func (c *Conn) SetCollaborators(wire Wire, addrSel AddressSelector, sched SegmentScheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wire = wire
	c.addrSel = addrSel
	c.scheduler = sched
}

func (c *Conn) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return timeNow().Add(c.timeout)
}

// GetState returns the connection's current state.
func (c *Conn) GetState() State { return c.State() }

// Connect performs an active open to remote. Only legal from CLOSED; a
// re-invocation while already mid-handshake takes the same timed wait
// branch instead of erroring, preserving idempotency of a retrying caller
// (spec §4.3.1).
func (c *Conn) Connect(remote netip.AddrPort) Errno {
	c.mu.Lock()
	if c.state != StateClosed {
		signaled := c.events.wait(EventConnected|EventClosed, c.deadline())
		defer c.mu.Unlock()
		return connectResult(signaled)
	}

	if c.addrSel == nil {
		c.mu.Unlock()
		return ErrNotConfigured
	}
	local, ok := c.addrSel.SelectSource(remote.Addr())
	if !ok {
		c.mu.Unlock()
		return ErrNotConfigured
	}

	if errno := c.allocateBuffers(c.cfgTxSize, c.cfgRxSize); errno != NoError {
		c.mu.Unlock()
		return errno
	}

	c.remoteAddr = remote
	localPort := c.localAddr.Port()
	if localPort == 0 && c.table != nil {
		localPort = c.table.allocPort()
	}
	c.localAddr = netip.AddrPortFrom(local, localPort)

	var iss Value
	if c.table != nil {
		iss = Value(c.table.issRandom())
	}
	c.rcv.WND = Size(c.cfgRxSize)
	c.cong.init(DefaultMSS, Size(c.cfgTxSize))

	syn := ClientSynSegment(iss, c.rcv.WND)
	err := c.send(syn)
	if err != nil {
		c.deleteControlBlock()
		table := c.table
		c.mu.Unlock()
		if table != nil {
			table.unregister(c)
		}
		return ErrFailure
	}
	c.armRTO()
	wire, la, ra := c.wire, c.localAddr, c.remoteAddr
	deadline := c.deadline()
	c.mu.Unlock()

	if wire != nil {
		wire.SendSegment(la, ra, syn, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	signaled := c.events.wait(EventConnected|EventClosed, deadline)
	return connectResult(signaled)
}

// ClientSynSegment builds the first outgoing segment of an active open.
func ClientSynSegment(clientISS Value, clientWND Size) Segment {
	return Segment{SEQ: clientISS, WND: clientWND, Flags: FlagSYN}
}

// connectResult implements Open Question 2's resolution: compare the
// returned signaled bit against each expected bit individually, never the
// OR-mask.
func connectResult(signaled Event) Errno {
	switch {
	case signaled&EventConnected != 0:
		return NoError
	case signaled&EventClosed != 0:
		return ErrConnectionFailed
	default:
		return ErrTimeout
	}
}

// Listen switches the socket to LISTEN with the given backlog: a backlog of
// zero or less becomes DefaultSynQueueSize, one above MaxSynQueueSize is
// capped at MaxSynQueueSize, and any other value is kept. Callable again while already in
// LISTEN to re-clamp the backlog in place (spec §8's listen/listen
// idempotence test); any other non-CLOSED state is rejected per Open
// Question 3's resolution.
func (c *Conn) Listen(backlog int) Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateListen:
		c.listener.reclamp(backlog)
		return NoError
	case StateClosed:
		if errno := c.allocateBuffers(c.cfgTxSize, c.cfgRxSize); errno != NoError {
			return errno
		}
		if c.localAddr.Port() == 0 && c.table != nil {
			c.localAddr = netip.AddrPortFrom(c.localAddr.Addr(), c.table.allocPort())
		}
		c.listener = newListenerState(backlog)
		c.state = StateListen
		return NoError
	default:
		return ErrAlreadyConnected
	}
}

// Accept blocks until an admitted half-SYN is available, then promotes it
// into a freshly allocated child Conn entering SYN-RECEIVED. The
// allocation of the child (socket_open) happens with the mutex released,
// per the mutex hand-off design in spec §9.
func (c *Conn) Accept() (*Conn, netip.AddrPort, Errno) {
	c.mu.Lock()
	for {
		if c.state != StateListen {
			c.mu.Unlock()
			return nil, netip.AddrPort{}, ErrInvalidSocket
		}
		item, ok := c.listener.dequeue()
		if !ok {
			deadline := c.deadline()
			signaled := c.events.wait(EventRxReady, deadline)
			if signaled == 0 {
				c.mu.Unlock()
				return nil, netip.AddrPort{}, ErrTimeout
			}
			c.events.clear(EventRxReady)
			continue
		}

		listenerPort := c.localAddr.Port()
		txSize, rxSize := c.cfgTxSize, c.cfgRxSize
		table := c.table
		wire, addrSel, sched := c.wire, c.addrSel, c.scheduler
		logCfg := c.log
		timeout := c.timeout
		c.mu.Unlock() // socket_open must not run under NET_MUTEX.

		child := &Conn{
			localAddr: item.localAddr,
			owned:     true,
			timeout:   timeout,
			table:     table,
			cfgTxSize: txSize,
			cfgRxSize: rxSize,
		}
		child.SetLogger(logCfg)
		child.initialize()
		child.SetCollaborators(wire, addrSel, sched)

		c.mu.Lock()
		if c.state != StateListen || listenerPort == 0 {
			releaseSynQueueItem(item)
			c.mu.Unlock()
			return nil, netip.AddrPort{}, ErrInvalidSocket
		}
		if errno := child.allocateBuffers(txSize, rxSize); errno != NoError {
			releaseSynQueueItem(item)
			continue // alloc failure: drop item, try the next one.
		}

		child.remoteAddr = item.remoteAddr
		var iss Value
		if table != nil {
			iss = Value(table.issRandom())
		}
		child.resetSnd(iss, 0)
		child.resetRcv(Size(rxSize), item.isn)
		child.rcv.NXT = item.isn + 1
		child.cong.init(minSize(item.mss, MaxMSS), Size(txSize))
		child.state = StateSynRcvd

		synack := Segment{SEQ: iss, ACK: child.rcv.NXT, Flags: FlagSYN | FlagACK, WND: child.rcv.WND}
		sendErr := child.send(synack)
		remote := item.remoteAddr
		releaseSynQueueItem(item)
		if sendErr != nil {
			child.deleteControlBlock()
			continue
		}
		child.armRTO()
		c.mu.Unlock()
		// child is fully initialized; only now does it become visible to the
		// timer sweep / metrics collector, which always reach it through its
		// own mu rather than the listener's. Registered after the listener's
		// mu is released, since register may take tableMu.
		if table != nil {
			table.register(child)
		}

		if wire != nil {
			wire.SendSegment(child.localAddr, remote, synack, nil)
		}
		return child, remote, NoError
	}
}

func minSize(a, b Size) Size {
	if a == 0 || a > b {
		return b
	}
	return a
}

// Send queues up to len(data) bytes for transmission, blocking on TX_READY
// until space is available, per spec §4.4.
func (c *Conn) Send(data []byte, flags SendFlag) (int, Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()

	written := 0
	for written < len(data) {
		signaled := c.events.wait(EventTxReady, c.deadline())
		if signaled == 0 {
			return written, ErrTimeout
		}

		switch c.state {
		case StateEstablished, StateCloseWait:
		case StateClosed:
			if c.resetFlg {
				return written, ErrConnectionReset
			}
			return written, ErrNotConnected
		default:
			if c.state.IsClosing() {
				return written, ErrConnectionClosing
			}
			return written, ErrNotConnected
		}

		free := c.cfgTxSize - (int(c.snd.USER) + int(c.snd.inFlight()))
		if free <= 0 {
			return written, ErrFailure
		}
		n := len(data) - written
		if n > free {
			n = free
		}
		wasEmpty := c.snd.USER == 0
		if c.buf.tx != nil {
			_, _ = c.buf.tx.Write(data[written : written+n])
		}
		c.snd.USER += Size(n)
		written += n

		if wasEmpty {
			c.armOverride()
		}
		if int(c.snd.USER)+int(c.snd.inFlight()) >= c.cfgTxSize {
			c.events.clear(EventTxReady)
		}
		if c.scheduler != nil {
			c.scheduler.Notify(c)
		}
	}

	if flags&WaitAck != 0 {
		signaled := c.events.wait(EventTxAcked, c.deadline())
		if signaled == 0 {
			return written, ErrTimeout
		}
		if c.state != StateEstablished && c.state != StateCloseWait {
			return written, ErrNotConnected
		}
	}
	return written, NoError
}

// Receive delegates to the segment/reassembly collaborator's RX buffer,
// blocking until at least one byte is available or end-of-stream (peer
// FIN with no data remaining) per spec §4.5.
func (c *Conn) Receive(buf []byte) (int, Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.buf.rx != nil && c.buf.BufferedInput() > 0 {
			n, _ := c.buf.rx.Read(buf)
			c.rcv.USER -= Size(n)
			if c.buf.BufferedInput() == 0 {
				c.events.clear(EventRxReady)
			}
			return n, NoError
		}
		if c.state == StateCloseWait || c.state == StateClosing || c.state == StateLastAck || c.state == StateTimeWait {
			return 0, ErrEndOfStream
		}
		signaled := c.events.wait(EventRxReady, c.deadline())
		if signaled == 0 {
			return 0, ErrTimeout
		}
	}
}

// Shutdown half-closes the connection per the {SEND, RECEIVE, BOTH} model
// of spec §4.3.4.
func (c *Conn) Shutdown(how ShutdownHow) Errno {
	if how == ShutdownBoth {
		if errno := c.Shutdown(ShutdownSend); errno != NoError {
			return errno
		}
		return c.Shutdown(ShutdownReceive)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if how == ShutdownReceive {
		signaled := c.events.wait(EventTxShutdown, c.deadline())
		if signaled == 0 {
			return ErrTimeout
		}
		return NoError
	}

	switch c.state {
	case StateSynRcvd, StateEstablished, StateCloseWait:
		// Flush outstanding TX: notify the scheduler, then wait TX_DONE. No
		// empty NO_DELAY segment is sent; when queued data goes out is left
		// to the scheduler.
		if c.buf.BufferedUnsent() > 0 || c.snd.inFlight() > 0 {
			c.events.clear(EventTxDone)
			if c.scheduler != nil {
				c.scheduler.Notify(c)
			}
			signaled := c.events.wait(EventTxDone, c.deadline())
			if signaled == 0 {
				return ErrTimeout
			}
		}
		fin := Segment{SEQ: c.snd.NXT, ACK: c.rcv.NXT, Flags: finack, WND: c.rcv.WND}
		if err := c.send(fin); err != nil {
			return ErrFailure
		}
		if c.wire != nil {
			c.wire.SendSegment(c.localAddr, c.remoteAddr, fin, nil)
		}
	case StateFinWait1, StateClosing, StateLastAck:
		// Already sent FIN; fall through to the shared wait below.
	case StateClosed, StateListen:
		return ErrNotConnected
	default:
		return ErrNotConnected
	}

	signaled := c.events.wait(EventTxShutdown, c.deadline())
	if signaled == 0 {
		return ErrTimeout
	}
	return NoError
}

// Abort forces the connection closed, sending a RST where applicable, per
// spec §4.3.3.
func (c *Conn) Abort() Errno {
	c.mu.Lock()
	var closed bool
	defer func() {
		if closed && c.table != nil {
			c.table.unregister(c)
		}
	}()
	defer c.mu.Unlock()

	switch {
	case c.state == StateTimeWait:
		c.owned = false
		return NoError
	case c.state == StateSynRcvd || c.state == StateEstablished ||
		c.state == StateFinWait1 || c.state == StateFinWait2 || c.state == StateCloseWait:
		rst := Segment{SEQ: c.snd.NXT, Flags: FlagRST}
		if c.wire != nil {
			c.wire.SendSegment(c.localAddr, c.remoteAddr, rst, nil)
		}
		c.deleteControlBlock()
		closed = true
		c.owned = false
		return NoError
	default:
		c.deleteControlBlock()
		closed = true
		c.owned = false
		return NoError
	}
}

// deliver is the narrow entry point a Demuxer/Wire collaborator uses to
// hand an inbound segment (and any payload) to this connection's TCB. It
// takes NET_MUTEX, runs the segment through recv, and writes any payload
// into the RX buffer once the segment is admitted -- mirroring the
// teacher's Handler.Recv (tcp/handler.go), which validates via
// scb.Recv(seg) before writing payload into bufRx.
func (c *Conn) deliver(seg Segment, payload []byte) error {
	c.mu.Lock()
	var closed bool
	defer func() {
		if closed && c.table != nil {
			c.table.unregister(c)
		}
	}()
	defer c.mu.Unlock()

	wasClosed := c.state == StateClosed
	err := c.recv(seg)
	closed = c.state == StateClosed && !wasClosed
	if err != nil {
		return err
	}
	if len(payload) > 0 && c.buf.rx != nil {
		if _, err := c.buf.rx.Write(payload); err != nil {
			return err
		}
		c.rcv.USER += Size(len(payload))
	}
	if c.buf.FreeTx() > 0 {
		c.events.set(EventTxReady)
	}
	return nil
}
