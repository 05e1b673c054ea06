package tcp

import "testing"

// TestCongestionSlowStart checks that init() seeds cwnd at the standard
// three-segment initial window (clamped to the tx buffer size) and that
// each subsequent ACK grows cwnd by at most one smss, per RFC 5681 slow
// start.
func TestCongestionSlowStart(t *testing.T) {
	var cong congestion
	const smss, txBuf Size = 536, 22880

	cong.init(smss, txBuf)
	if want := 3 * smss; cong.cwnd != want {
		t.Fatalf("initial cwnd = %d, want %d (3*smss)", cong.cwnd, want)
	}
	if cong.state != CongestIdle {
		t.Fatalf("initial congest state = %v, want IDLE", cong.state)
	}

	prev := cong.cwnd
	cong.onAckProgress(smss)
	if cong.cwnd <= prev {
		t.Fatalf("cwnd did not grow on ACK progress: %d -> %d", prev, cong.cwnd)
	}
	if grew := cong.cwnd - prev; grew > smss {
		t.Fatalf("slow start grew cwnd by %d in one ACK, want <= smss (%d)", grew, smss)
	}
}

// TestCongestionInitialWindowClampedToTxBuffer checks the resolved
// overflow-safe initialCwnd helper: a tiny tx buffer clamps the initial
// window below 3*smss rather than overrunning it.
func TestCongestionInitialWindowClampedToTxBuffer(t *testing.T) {
	var cong congestion
	const smss, txBuf Size = 536, 1000

	cong.init(smss, txBuf)
	if cong.cwnd != txBuf {
		t.Fatalf("cwnd = %d, want clamped to tx buffer size %d", cong.cwnd, txBuf)
	}
}

// TestFastRetransmitOnThirdDupAck checks that the third duplicate ACK in
// CongestIdle halves ssthresh (floored at 2*smss), inflates cwnd by
// 3*smss, enters CongestRecovery, signals retransmit, and counts it.
func TestFastRetransmitOnThirdDupAck(t *testing.T) {
	var cong congestion
	const smss Size = 536
	cong.init(smss, 22880)
	cong.cwnd = 10 * smss

	var retransmit bool
	for i := 0; i < 3; i++ {
		retransmit = cong.onDupAck(8 * smss)
	}
	if !retransmit {
		t.Fatal("onDupAck did not signal retransmit on the third duplicate ACK")
	}
	if cong.state != CongestRecovery {
		t.Fatalf("state after fast retransmit = %v, want RECOVERY", cong.state)
	}
	wantSsthresh := halfFlight(8*smss, smss)
	if cong.ssthresh != wantSsthresh {
		t.Fatalf("ssthresh = %d, want %d", cong.ssthresh, wantSsthresh)
	}
	if want := cong.ssthresh + 3*smss; cong.cwnd != want {
		t.Fatalf("cwnd after fast retransmit = %d, want %d", cong.cwnd, want)
	}
	if cong.retransmits != 1 {
		t.Fatalf("retransmits = %d, want 1", cong.retransmits)
	}
}

// TestDupAckBelowThresholdDoesNotRetransmit checks that fewer than three
// duplicate ACKs leave the connection in slow start / congestion avoidance.
func TestDupAckBelowThresholdDoesNotRetransmit(t *testing.T) {
	var cong congestion
	cong.init(536, 22880)

	if cong.onDupAck(1000) || cong.onDupAck(1000) {
		t.Fatal("onDupAck signaled retransmit before the third duplicate ACK")
	}
	if cong.state != CongestIdle {
		t.Fatalf("state after two dup ACKs = %v, want IDLE", cong.state)
	}
	if cong.retransmits != 0 {
		t.Fatalf("retransmits = %d, want 0", cong.retransmits)
	}
}

// TestRTOEntersLossRecovery checks that onRTO halves ssthresh, resets cwnd
// to one smss, resets the dup-ACK counter, and counts the retransmit.
func TestRTOEntersLossRecovery(t *testing.T) {
	var cong congestion
	const smss Size = 536
	cong.init(smss, 22880)
	cong.dupAcks = 2
	cong.cwnd = 20 * smss

	cong.onRTO(10 * smss)

	if cong.state != CongestLossRecovery {
		t.Fatalf("state after RTO = %v, want LOSS_RECOVERY", cong.state)
	}
	if cong.cwnd != smss {
		t.Fatalf("cwnd after RTO = %d, want %d (one smss)", cong.cwnd, smss)
	}
	if cong.dupAcks != 0 {
		t.Fatalf("dupAcks after RTO = %d, want reset to 0", cong.dupAcks)
	}
	if cong.retransmits != 1 {
		t.Fatalf("retransmits = %d, want 1", cong.retransmits)
	}
}

// TestHalfFlightFlooredAtTwoSMSS checks halfFlight's floor behavior used by
// both onDupAck and onRTO.
func TestHalfFlightFlooredAtTwoSMSS(t *testing.T) {
	const smss Size = 536
	if got, want := halfFlight(100, smss), 2*smss; got != want {
		t.Fatalf("halfFlight(100, smss) = %d, want floor %d", got, want)
	}
	if got, want := halfFlight(4000, smss), Size(2000); got != want {
		t.Fatalf("halfFlight(4000, smss) = %d, want %d", got, want)
	}
}
