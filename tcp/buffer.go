package tcp

import "github.com/polarwind/tcpcore/internal/chunkbuf"

// sideBuffers groups the TX and RX chunked side-buffers a TCB owns, mirroring
// the teacher's Handler.bufTx/bufRx composition (tcp/handler.go) but
// generalized to the simpler read/write/discard contract chunkbuf.Buffer
// exposes, since retransmission-queue bookkeeping (the teacher's ringTx
// sentlist) is an external collaborator's concern here, not the buffer's.
type sideBuffers struct {
	tx *chunkbuf.Buffer
	rx *chunkbuf.Buffer
}

func (b *sideBuffers) allocate(txSize, rxSize int) {
	b.tx = chunkbuf.NewBuffer(txSize)
	b.rx = chunkbuf.NewBuffer(rxSize)
}

func (b *sideBuffers) release() {
	b.tx = nil
	b.rx = nil
}

// BufferedUnsent returns the number of bytes held in the TX buffer: bytes
// queued by the user and not yet sent (snd_user in the data model) plus bytes
// sent but not yet acknowledged, since the buffer is drained only on ACK.
func (b *sideBuffers) BufferedUnsent() int {
	if b.tx == nil {
		return 0
	}
	return b.tx.Buffered()
}

// FreeTx returns the remaining TX capacity.
func (b *sideBuffers) FreeTx() int {
	if b.tx == nil {
		return 0
	}
	return b.tx.Free()
}

// BufferedInput returns the number of RX bytes delivered but not yet read
// by the user (rcv_user in the data model).
func (b *sideBuffers) BufferedInput() int {
	if b.rx == nil {
		return 0
	}
	return b.rx.Buffered()
}

// FreeRx returns the remaining RX capacity.
func (b *sideBuffers) FreeRx() int {
	if b.rx == nil {
		return 0
	}
	return b.rx.Free()
}
