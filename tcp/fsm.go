package tcp

import (
	"errors"
	"math"
)

// recv processes a segment arriving from the network, validating it and
// dispatching to the appropriate per-state handler, then folding the result
// back into the TCB. Caller must hold c.mu. Grounded directly on the
// teacher's ControlBlock.Recv + control_rcvhandlers.go's rcv* functions;
// the validation rules and per-state transition logic are carried over in
// spirit, only the surrounding synchronization differs (event bus signaling
// replaces the teacher's pure state mutation with no cross-thread wakeup).
func (c *Conn) recv(seg Segment) error {
	err := c.validateIncomingSegment(seg)
	if err != nil {
		c.traceSeg("tcb:rcv.reject", seg)
		return err
	}

	prevState := c.state
	var pending Flags
	switch c.state {
	case StateListen:
		pending, err = c.rcvListen(seg)
	case StateSynSent:
		pending, err = c.rcvSynSent(seg)
	case StateSynRcvd:
		pending, err = c.rcvSynRcvd(seg)
	case StateEstablished:
		pending, err = c.rcvEstablished(seg)
	case StateFinWait1:
		pending, err = c.rcvFinWait1(seg)
	case StateFinWait2:
		pending, err = c.rcvFinWait2(seg)
	case StateCloseWait:
		// No further state-machine-relevant segments expected; data/FIN already handled.
	case StateLastAck:
		if seg.Flags.HasAny(FlagACK) {
			c.close()
		}
	case StateClosing:
		if seg.Flags.HasAny(FlagACK) {
			c.state = StateTimeWait
			c.armTimeWait()
		}
	default:
		return errInvalidState
	}
	if err != nil {
		return err
	}

	c.pending[0] |= pending

	c.snd.WND = seg.WND
	if seg.Flags.HasAny(FlagACK) {
		progressed := c.snd.UNA.LessThan(seg.ACK)
		acked := Sizeof(c.snd.UNA, seg.ACK)
		c.snd.UNA = seg.ACK
		if progressed {
			if c.buf.tx != nil {
				c.buf.tx.Discard(int(acked))
			}
			c.cong.onAckProgress(acked)
			c.events.set(EventTxAcked)
			if c.buf.BufferedUnsent() == 0 && c.snd.inFlight() == 0 {
				c.events.set(EventTxDone)
			}
		}
	}
	seglen := seg.LEN()
	c.rcv.NXT.UpdateForward(seglen)
	if seg.DATALEN > 0 {
		c.events.set(EventRxReady)
	}

	c.traceSeg("tcb:rcv", seg)
	c.signalStateChange(prevState)
	if c.scheduler != nil {
		c.scheduler.Notify(c)
	}
	return nil
}

// send processes a segment about to go out, validating it and advancing
// snd.NXT/pending flags. Caller must hold c.mu.
func (c *Conn) send(seg Segment) error {
	err := c.validateOutgoingSegment(seg)
	if err != nil {
		c.traceSeg("tcb:snd.reject", seg)
		return err
	}

	prevState := c.state
	hasFIN := seg.Flags.HasAny(FlagFIN)
	hasACK := seg.Flags.HasAny(FlagACK)
	var newPending Flags
	switch c.state {
	case StateClosed:
		if seg.Flags == FlagSYN {
			c.state = StateSynSent
			c.prepareToHandshake(seg.SEQ, seg.WND)
		}
	case StateSynRcvd:
		if hasFIN {
			c.state = StateFinWait1
		}
	case StateClosing:
		if hasACK {
			c.state = StateTimeWait
			c.armTimeWait()
		}
	case StateEstablished:
		if hasFIN {
			c.state = StateFinWait1
		}
	case StateCloseWait:
		if hasFIN {
			c.state = StateLastAck
		} else if hasACK {
			newPending = finack
		}
	}

	c.pending[0] &^= seg.Flags
	if c.pending[0] == 0 {
		c.pending = [2]Flags{c.pending[1] &^ (seg.Flags & FlagFIN), 0}
	}
	c.pending[0] |= newPending

	seglen := seg.LEN()
	c.snd.NXT.UpdateForward(seglen)
	if seg.DATALEN > c.snd.USER {
		c.snd.USER = 0
	} else {
		c.snd.USER -= seg.DATALEN
	}
	c.rcv.WND = seg.WND

	c.traceSeg("tcb:snd", seg)
	c.signalStateChange(prevState)
	return nil
}

func (c *Conn) signalStateChange(prev State) {
	if c.state == prev {
		return
	}
	if c.state == StateEstablished {
		c.events.set(EventConnected | EventTxReady)
	}
	if c.state.IsClosing() && c.state != StateTimeWait {
		c.events.set(EventTxShutdown)
	}
	if c.state == StateClosed {
		c.events.set(EventClosed)
	}
}

// HasPending reports whether there is a control segment queued to send.
func (c *Conn) HasPending() bool { return c.pending[0] != 0 }

// PendingSegment computes the next segment to emit given payloadLen bytes
// available in the TX buffer (mirrors the teacher's
// ControlBlock.PendingSegment). The only TCB state it changes is a pending
// challenge ACK, which it consumes when returning it.
func (c *Conn) PendingSegment(payloadLen int) (Segment, bool) {
	if c.challengeAck {
		c.challengeAck = false
		return Segment{SEQ: c.snd.NXT, ACK: c.rcv.NXT, Flags: FlagACK, WND: c.rcv.WND}, true
	}
	pending := c.pending[0]
	established := c.state == StateEstablished
	if !established && c.state != StateCloseWait {
		payloadLen = 0
	}
	if pending == 0 && payloadLen == 0 {
		return Segment{}, false
	}

	maxPayload := c.snd.maxSend()
	if Size(payloadLen) > maxPayload {
		if maxPayload == 0 && !pending.HasAny(FlagFIN|FlagRST|FlagSYN) {
			return Segment{}, false
		}
		payloadLen = int(maxPayload)
	}

	if established {
		pending |= FlagACK
	} else {
		payloadLen = 0
	}

	var ack Value
	if pending.HasAny(FlagACK) {
		ack = c.rcv.NXT
	}
	seq := c.snd.NXT
	if pending.HasAny(FlagRST) {
		seq = c.rstPtr
	}

	seg := Segment{SEQ: seq, ACK: ack, WND: c.rcv.WND, Flags: pending, DATALEN: Size(payloadLen)}
	c.traceSeg("tcb:pending-out", seg)
	return seg, true
}

func (c *Conn) validateOutgoingSegment(seg Segment) error {
	hasAck := seg.Flags.HasAny(FlagACK)
	isFirst := c.state == StateClosed && seg.isFirstSYN()
	checkSeq := !isFirst && !seg.Flags.HasAny(FlagRST)
	seglast := seg.Last()
	zeroWindowOK := c.snd.WND == 0 && seg.DATALEN == 0 && seg.SEQ == c.snd.NXT
	outOfWindow := checkSeq && !seg.SEQ.InWindow(c.snd.NXT, c.snd.WND) && !zeroWindowOK

	switch {
	case c.state == StateClosed && !isFirst:
		return errConnNotExist
	case seg.WND > math.MaxUint16:
		return errWindowTooLarge
	case hasAck && seg.ACK != c.rcv.NXT:
		return errAckNotNext
	case outOfWindow:
		if c.snd.WND == 0 {
			return errZeroWindow
		}
		return errSeqNotInWindow
	case seg.DATALEN > 0 && (c.state == StateFinWait1 || c.state == StateFinWait2):
		return errConnClosing
	case checkSeq && c.snd.WND == 0 && seg.DATALEN > 0 && seg.SEQ == c.snd.NXT:
		return errZeroWindow
	case checkSeq && !seglast.InWindow(c.snd.NXT, c.snd.WND) && !zeroWindowOK:
		return errLastNotInWindow
	}
	return nil
}

func (c *Conn) validateIncomingSegment(seg Segment) error {
	flags := seg.Flags
	hasAck := flags.HasAll(FlagACK)
	checkSEQ := !flags.HasAny(FlagSYN)
	established := c.state == StateEstablished
	preestablished := c.state.IsPreestablished()
	acksOld := hasAck && !c.snd.UNA.LessThan(seg.ACK)
	acksUnsentData := hasAck && !seg.ACK.LessThanEq(c.snd.NXT)
	ctlOrDataSegment := established && (seg.DATALEN > 0 || flags.HasAny(FlagFIN|FlagRST))
	zeroWindowOK := c.rcv.WND == 0 && seg.DATALEN == 0 && seg.SEQ == c.rcv.NXT

	switch {
	case seg.WND > math.MaxUint16:
		return errWindowOverflow
	case c.state == StateClosed:
		return errConnNotExist
	case checkSEQ && c.rcv.WND == 0 && seg.DATALEN > 0 && seg.SEQ == c.rcv.NXT:
		return errZeroWindow
	case checkSEQ && !seg.SEQ.InWindow(c.rcv.NXT, c.rcv.WND) && !zeroWindowOK:
		return errSeqNotInWindow
	case checkSEQ && !seg.Last().InWindow(c.rcv.NXT, c.rcv.WND) && !zeroWindowOK:
		return errLastNotInWindow
	case checkSEQ && seg.SEQ != c.rcv.NXT:
		return errRequireSequential
	}

	if flags.HasAny(FlagRST) {
		return c.handleRST(seg.SEQ)
	}

	switch {
	case established && acksOld && !ctlOrDataSegment:
		c.pending[0] &= FlagFIN
		return errDropSegment
	case established && acksUnsentData:
		c.pending[0] = FlagACK
		return errDropSegment
	case preestablished && (acksOld || acksUnsentData):
		c.pending[0] = FlagRST
		c.rstPtr = seg.ACK
		c.resetSnd(c.snd.ISS, seg.WND)
		return errDropSegment
	}
	return nil
}

func (c *Conn) handleRST(seq Value) error {
	c.debug("rcv:RST", "state", c.state.String())
	if seq != c.rcv.NXT {
		// RFC 9293: an RST within the window but not exactly RCV.NXT must be
		// challenged with an ACK, not applied.
		c.challengeAck = true
		c.pending[0] |= FlagACK
		return errDropSegment
	}
	if c.state.IsPreestablished() {
		c.pending[0] = 0
		c.state = StateListen
		c.resetSnd(c.snd.ISS+100, c.snd.WND)
		c.resetRcv(c.rcv.WND, 0)
	} else {
		c.resetFlg = true
		c.close()
		return errors.New("tcp: connection reset by peer")
	}
	return errDropSegment
}

func (c *Conn) rcvListen(seg Segment) (Flags, error) {
	if !seg.Flags.HasAll(FlagSYN) {
		return 0, errExpectedSYN
	}
	c.resetSnd(c.snd.ISS, seg.WND)
	c.resetRcv(c.rcv.WND, seg.SEQ)
	c.pending[0] = synack
	c.state = StateSynRcvd
	return synack, nil
}

func (c *Conn) rcvSynSent(seg Segment) (Flags, error) {
	hasSyn := seg.Flags.HasAny(FlagSYN)
	hasAck := seg.Flags.HasAny(FlagACK)
	if !hasSyn {
		return 0, errExpectedSYN
	}
	if hasAck && seg.ACK != c.snd.UNA+1 {
		return 0, errBadSegAck
	}
	if hasAck {
		c.state = StateEstablished
		c.resetRcv(c.rcv.WND, seg.SEQ)
		return FlagACK, nil
	}
	// Simultaneous-open edge case: peer also sent a bare SYN.
	c.state = StateSynRcvd
	c.resetSnd(c.snd.ISS, seg.WND)
	c.resetRcv(c.rcv.WND, seg.SEQ)
	return synack, nil
}

func (c *Conn) rcvSynRcvd(seg Segment) (Flags, error) {
	if seg.ACK != c.snd.UNA+1 {
		return 0, errBadSegAck
	}
	c.state = StateEstablished
	return 0, nil
}

func (c *Conn) rcvEstablished(seg Segment) (Flags, error) {
	var pending Flags
	dataToAck := seg.DATALEN > 0
	hasFin := seg.Flags.HasAny(FlagFIN)
	if dataToAck || hasFin {
		pending = FlagACK
		if hasFin {
			c.state = StateCloseWait
			c.pending[1] = FlagFIN
		}
	}
	return pending, nil
}

func (c *Conn) rcvFinWait1(seg Segment) (Flags, error) {
	hasFin := seg.Flags.HasAny(FlagFIN)
	hasAck := seg.Flags.HasAny(FlagACK)
	switch {
	case hasFin && hasAck && seg.ACK == c.snd.NXT:
		c.state = StateTimeWait
		c.armTimeWait()
	case hasFin:
		c.state = StateClosing
	case hasAck:
		c.state = StateFinWait2
	default:
		return 0, errFinwaitExpectedACK
	}
	return FlagACK, nil
}

func (c *Conn) rcvFinWait2(seg Segment) (Flags, error) {
	if !seg.Flags.HasAll(finack) {
		return 0, errFinwaitExpectedFinAck
	}
	c.state = StateTimeWait
	c.armTimeWait()
	return FlagACK, nil
}
