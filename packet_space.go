// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// numberSpace enumerates the three packet-number spaces (§3). Ordering is
// meaningful: keys are upgraded Initial -> Handshake -> Data monotonically.
type numberSpace int

const (
	initialSpace numberSpace = iota
	handshakeSpace
	dataSpace
	numberSpaceCount
)

func (s numberSpace) String() string {
	switch s {
	case initialSpace:
		return "Initial"
	case handshakeSpace:
		return "Handshake"
	case dataSpace:
		return "Data"
	}
	return "invalid space"
}

// streamFrag names one outstanding STREAM fragment for retransmission
// bookkeeping.
type streamFrag struct {
	id     StreamID
	offset uint64
	size   int
	fin    bool
}

// retransmits bundles every frame whose loss requires retransmission
// (§3). ACK frames are never retransmitted: their information is always
// regenerated from the live pendingAcks set.
type retransmits struct {
	cryptoFrags  []rangeOff
	streamFrags  []streamFrag
	resetStreams []StreamID
	stopSendings []StreamID
	maxData      bool
	maxStreamData map[StreamID]bool
	maxStreamsBidi bool
	maxStreamsUni  bool
	newConnectionID  []int64 // sequence numbers
	retireConnectionID []int64
	ping bool
}

func (r *retransmits) isEmpty() bool {
	return len(r.cryptoFrags) == 0 && len(r.streamFrags) == 0 && len(r.resetStreams) == 0 &&
		len(r.stopSendings) == 0 && !r.maxData && len(r.maxStreamData) == 0 &&
		!r.maxStreamsBidi && !r.maxStreamsUni && len(r.newConnectionID) == 0 &&
		len(r.retireConnectionID) == 0 && !r.ping
}

// sentPacket records everything needed to react to a packet's eventual
// fate (acked or lost), per §3.
type sentPacket struct {
	pn           packetNumber
	timeSent     time.Time
	size         int // bytes on wire; 0 for ack-only packets
	ackEliciting bool
	isCrypto     bool
	ackedRanges  rangeSet    // ACK ranges this packet itself carried
	retransmits  retransmits
	largestAcked packetNumber // the ACK frame's Largest Acknowledged, if this packet was ack-eliciting because it was a PTO probe after an ACK; used for ECN/largestAcked bookkeeping only
}

// packetSpace is the per-encryption-level bookkeeping of §3/§4.2: one
// instance each for Initial, Handshake, and Data.
type packetSpace struct {
	discarded bool

	nextTx       packetNumber
	largestAcked packetNumber // -1 if none
	largestAckedSendTime time.Time

	sent map[packetNumber]*sentPacket

	pending     retransmits
	pendingAcks rangeSet

	dedup dedupWindow

	cryptoStream reassembler // received CRYPTO bytes, reassembled for the Session
	cryptoOut    []byte      // sent CRYPTO bytes, indexed by absolute offset, for retransmission
	cryptoOffset uint64      // next tx offset into the crypto stream

	lossTime     time.Time
	permitAckOnly bool

	rxPacket     packetNumber // largest packet number received, for expansion reference
	rxPacketTime time.Time

	// ECN bookkeeping: counts we have received from the peer so far.
	ecn ecnState

	// recvECN accumulates the codepoints observed on datagrams received in
	// this space, for echoing back to the peer via our own ACK_ECN (§4.2).
	recvECN      ecnCounts
	haveECNCounts bool

	lastAckElicitingSent time.Time

	ptoCount uint64
}

func newPacketSpace() *packetSpace {
	return &packetSpace{
		largestAcked: invalidPacketNumber,
		rxPacket:     invalidPacketNumber,
		sent:         make(map[packetNumber]*sentPacket),
	}
}

// canSend reports whether this space has anything pending to transmit,
// per §4.2.
func (sp *packetSpace) canSend() bool {
	return !sp.pendingAcks.isEmpty() || !sp.pending.isEmpty()
}

// allocateNumber returns the next transmit packet number for this space
// and advances the counter. Packet numbers within a space strictly
// increase on transmit (§8 invariant).
func (sp *packetSpace) allocateNumber() packetNumber {
	pn := sp.nextTx
	sp.nextTx++
	return pn
}

// hasOutstanding reports whether any sent packet remains un-acked and
// un-lost in this space.
func (sp *packetSpace) hasOutstanding() bool { return len(sp.sent) > 0 }

// recordSent inserts p into sent_packets, which owns it from transmit
// until acked, declared lost, or the space is discarded (§3 invariant).
func (sp *packetSpace) recordSent(p *sentPacket) {
	sp.sent[p.pn] = p
	if p.ackEliciting {
		sp.lastAckElicitingSent = p.timeSent
	}
}
