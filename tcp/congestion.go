package tcp

import "math"

// CongestState enumerates the congestion-control sub-states layered on top
// of slow start / congestion avoidance (which are both sub-behaviors of
// CongestIdle, distinguished only by cwnd vs ssthresh).
type CongestState uint8

const (
	CongestIdle CongestState = iota
	CongestRecovery
	CongestLossRecovery
)

func (c CongestState) String() string {
	switch c {
	case CongestIdle:
		return "IDLE"
	case CongestRecovery:
		return "RECOVERY"
	case CongestLossRecovery:
		return "LOSS_RECOVERY"
	default:
		return "CongestState(?)"
	}
}

// congestion holds the RFC 5681-style congestion-control variables.
type congestion struct {
	smss     Size
	rmss     Size
	cwnd     Size
	ssthresh Size
	recover  Value
	state    CongestState
	dupAcks  int

	// retransmits counts fast-retransmit and RTO-triggered loss-recovery
	// entries over the connection's lifetime; surfaced by metrics.Collector.
	retransmits uint32
}

// initialCwnd computes min(INITIAL_WINDOW*smss, txBufferSize) in 32-bit
// space and saturates to uint16 range for storage, per the resolved
// congestion-window-overflow design note: both the active-open and accept
// paths call this single helper, so neither gets the "possible overflow"
// variant the source's two paths used to differ on.
func initialCwnd(smss Size, txBufferSize Size) Size {
	const initialWindow = 3
	v := uint32(initialWindow) * uint32(smss)
	if v > uint32(txBufferSize) {
		v = uint32(txBufferSize)
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	return Size(v)
}

func (c *congestion) init(smss, txBufferSize Size) {
	c.smss = smss
	c.ssthresh = math.MaxUint16
	c.cwnd = initialCwnd(smss, txBufferSize)
	c.state = CongestIdle
	c.dupAcks = 0
}

// onAckProgress is called whenever an ACK advances snd.una, i.e. genuine
// forward progress (not a duplicate ACK).
func (c *congestion) onAckProgress(ackedBytes Size) {
	c.dupAcks = 0
	switch c.state {
	case CongestLossRecovery, CongestRecovery:
		c.state = CongestIdle
	}
	if c.cwnd < c.ssthresh {
		// Slow start: grow by the full amount acked, capped at one smss per ACK
		// in excess of the acked bytes so a single ACK covering many segments
		// can't blow the window open in one step.
		grow := ackedBytes
		if grow > c.smss {
			grow = c.smss
		}
		c.growCwnd(grow)
	} else {
		// Congestion avoidance: roughly +1 smss per RTT (approximated here as
		// +smss*smss/cwnd per ACK, the standard RFC 5681 approximation).
		if c.cwnd == 0 {
			c.cwnd = c.smss
			return
		}
		grow := uint32(c.smss) * uint32(c.smss) / uint32(c.cwnd)
		if grow == 0 {
			grow = 1
		}
		c.growCwnd(Size(grow))
	}
}

func (c *congestion) growCwnd(delta Size) {
	v := uint32(c.cwnd) + uint32(delta)
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	c.cwnd = Size(v)
}

// onDupAck is called on each duplicate ACK observed in ESTABLISHED. On the
// third duplicate ACK it triggers fast retransmit: halve ssthresh (floored
// at 2*smss) and enter CongestRecovery.
func (c *congestion) onDupAck(flightSize Size) bool {
	c.dupAcks++
	if c.dupAcks == 3 && c.state == CongestIdle {
		c.ssthresh = halfFlight(flightSize, c.smss)
		c.cwnd = c.ssthresh + Size(3)*c.smss
		c.state = CongestRecovery
		c.retransmits++
		return true // signals caller to retransmit
	}
	return false
}

// onRTO is called when the retransmission timer fires: halve ssthresh
// (floored at 2*smss), reset cwnd to one smss, and enter CongestLossRecovery.
func (c *congestion) onRTO(flightSize Size) {
	c.ssthresh = halfFlight(flightSize, c.smss)
	c.cwnd = c.smss
	c.state = CongestLossRecovery
	c.dupAcks = 0
	c.retransmits++
}

func halfFlight(flightSize, smss Size) Size {
	half := flightSize / 2
	floor := 2 * smss
	if half < floor {
		return floor
	}
	return half
}
