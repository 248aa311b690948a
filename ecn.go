// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// ECNCodepoint is the two-bit ECN field of an IP header (RFC 3168,
// Section 5), as observed on a received datagram or requested for one
// about to be sent.
type ECNCodepoint uint8

const (
	ECNNotECT ECNCodepoint = 0
	ECNECT1   ECNCodepoint = 1
	ECNECT0   ECNCodepoint = 2
	ECNCE     ECNCodepoint = 3
)

// ecnCounts tracks the ECT(0)/ECT(1)/CE codepoint counters carried in an
// ACK_ECN frame, or observed on received datagrams (§4.2, GLOSSARY).
type ecnCounts struct {
	ect0 uint64
	ect1 uint64
	ce   uint64
}

// ecnState tracks whether we still believe ECN marking is safe to use on
// this connection, per the ECN-safety law in §8: once ECN counters are
// observed to regress, sending stops permanently.
type ecnState struct {
	sending bool // gates detectECN; starts false and nothing in this package sets it
	// counts last reported by the peer via ACK_ECN, used to detect
	// regressions and to distinguish new CE growth from stale reports.
	reported ecnCounts
}

// detectECN compares the peer-reported counters against our own
// bookkeeping after newlyAcked ack-eliciting packets were newly
// acknowledged. It implements §4.2's detect_ecn: a decrease in any
// counter, or CE growth unaccompanied by any newly-acked packet, implies
// congestion or an untrustworthy path and disables ECN; it returns
// whether a congestion event should be signaled for this ACK.
func (e *ecnState) detectECN(newlyAcked int, counts ecnCounts, sentECT0 uint64) bool {
	if !e.sending {
		return false
	}
	if counts.ect0 < e.reported.ect0 || counts.ect1 < e.reported.ect1 || counts.ce < e.reported.ce {
		// Gross inconsistency: the peer is reporting fewer marks than
		// before. Disable ECN permanently.
		e.sending = false
		return false
	}
	ceGrew := counts.ce > e.reported.ce
	totalGrew := (counts.ect0 - e.reported.ect0) + (counts.ect1 - e.reported.ect1) + (counts.ce - e.reported.ce)
	congestion := false
	if ceGrew {
		congestion = true
	}
	if totalGrew > uint64(newlyAcked) {
		// More marks were reported than packets we actually sent and had
		// acknowledged: the path is manipulating ECN bits. Disable it.
		e.sending = false
		congestion = false
	}
	e.reported = counts
	return congestion
}
