package tcp

import (
	"math/bits"
	"strconv"
)

// Value is a sequence number in the 32-bit TCP sequence space. Arithmetic on
// Value wraps modulo 2^32, matching RFC 9293's sequence-space comparisons.
type Value uint32

// Size is an unsigned octet count, used for window sizes, segment lengths
// and buffer capacities. TCP windows are 16-bit on the wire; Size is kept at
// 32 bits internally so window-scale-free arithmetic (e.g. cwnd growth) does
// not wrap early, and is clamped to uint16 only where it crosses the wire.
type Size uint32

// Add returns v+delta performed in sequence space.
func Add(v Value, delta Size) Value { return v + Value(delta) }

// Sizeof returns the number of octets between a and b (b assumed to not
// precede a in sequence space), i.e. b-a performed in sequence space.
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan reports whether v precedes other in sequence space.
func (v Value) LessThan(other Value) bool { return int32(v-other) < 0 }

// LessThanEq reports whether v precedes or equals other in sequence space.
func (v Value) LessThanEq(other Value) bool { return v == other || v.LessThan(other) }

// InWindow reports whether v lies in [start, start+size) in sequence space.
func (v Value) InWindow(start Value, size Size) bool {
	if size == 0 {
		return v == start
	}
	offset := Value(v - start)
	return offset < Value(size)
}

// UpdateForward advances v by delta in place.
func (v *Value) UpdateForward(delta Size) { *v += Value(delta) }

// Flags is the TCP control-bit bitmask, i.e. SYN, FIN, ACK, RST...
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

const flagMask = 0x01ff

const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
)

// HasAll reports whether all bits in mask are set in flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny reports whether any bit in mask is set in flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns flags with non-flag bits cleared.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns a human-readable flag list, e.g. "[SYN,ACK]".
func (flags Flags) String() string {
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human-readable flag list to b, returning the result.
func (flags Flags) AppendFormat(b []byte) []byte {
	if flags == 0 {
		return b
	}
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURGECECWRNS "
	var addcomma bool
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if addcomma {
			b = append(b, ',')
		} else {
			addcomma = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	return b
}

// Segment represents an incoming or outgoing TCP segment in sequence space.
// It carries no payload bytes; those live in the connection's side-buffers.
type Segment struct {
	SEQ     Value // sequence number of the first octet; the ISN if SYN is set.
	ACK     Value // acknowledgment number, meaningful only if Flags has ACK set.
	DATALEN Size  // payload length, excluding SYN/FIN.
	WND     Size  // advertised window.
	Flags   Flags
}

// LEN returns the segment length in octets, including the SYN/FIN control bits.
func (seg *Segment) LEN() Size {
	add := Size(seg.Flags>>0) & 1
	add += Size(seg.Flags>>1) & 1
	return seg.DATALEN + add
}

// Last returns the sequence number of the segment's last octet.
func (seg *Segment) Last() Value {
	seglen := seg.LEN()
	if seglen == 0 {
		return seg.SEQ
	}
	return Add(seg.SEQ, seglen) - 1
}

func (seg Segment) isFirstSYN() bool {
	return seg.Flags == FlagSYN && seg.ACK == 0 && seg.DATALEN == 0 && seg.WND > 0
}

// State enumerates the 11 states of the TCP connection state machine.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynRcvd
	StateSynSent
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
)

var stateNames = [...]string{
	StateClosed:      "CLOSED",
	StateListen:      "LISTEN",
	StateSynRcvd:     "SYN-RECEIVED",
	StateSynSent:     "SYN-SENT",
	StateEstablished: "ESTABLISHED",
	StateFinWait1:    "FIN-WAIT-1",
	StateFinWait2:    "FIN-WAIT-2",
	StateClosing:     "CLOSING",
	StateTimeWait:    "TIME-WAIT",
	StateCloseWait:   "CLOSE-WAIT",
	StateLastAck:     "LAST-ACK",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// IsPreestablished reports whether s precedes ESTABLISHED (LISTEN, SYN-SENT,
// SYN-RECEIVED).
func (s State) IsPreestablished() bool {
	return s == StateSynRcvd || s == StateSynSent || s == StateListen
}

// IsClosing reports whether s is a closing state that has passed ESTABLISHED
// but has not yet reclaimed all connection state.
func (s State) IsClosing() bool {
	return !(s <= StateEstablished)
}

// IsClosed reports whether s is CLOSED or TIME-WAIT (connection state may be
// reclaimed).
func (s State) IsClosed() bool {
	return s == StateClosed || s == StateTimeWait
}

// IsSynchronized reports whether the connection has passed through ESTABLISHED.
func (s State) IsSynchronized() bool {
	return s >= StateEstablished
}

func (s State) isOpen() bool { return !s.IsClosed() }

func (s State) hasIRS() bool {
	return s.isOpen() && s != StateSynSent && s != StateListen
}
