// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// handleAck processes a received ACK or ACK_ECN frame (§4.7): it retires
// every acknowledged sent packet, feeds the largest newly-acked
// ack-eliciting packet's RTT sample to the estimator, applies newly-acked
// bytes to congestion control, finalizes each stream fragment the packet
// carried, runs the loss detector, and (for ACK_ECN) updates ECN state.
func (c *Conn) handleAck(now time.Time, space numberSpace, largestAcked packetNumber, ackDelay time.Duration, acked rangeSet, ecn *ecnCounts) error {
	sp := c.spaces[space]
	if sp.discarded || acked.isEmpty() {
		return nil
	}

	var newlyAcked []*sentPacket
	for _, r := range acked {
		for pn := r.start; pn < r.end; pn++ {
			p, ok := sp.sent[pn]
			if !ok {
				continue
			}
			newlyAcked = append(newlyAcked, p)
		}
	}
	if len(newlyAcked) == 0 {
		return nil
	}

	var largestNewlyAcked *sentPacket
	for _, p := range newlyAcked {
		delete(sp.sent, p.pn)
		c.loss.inFlight.remove(p)
		c.loss.cc.OnPacketAcked(p.timeSent, uint64(p.size))
		c.applyAckedRetransmits(space, p)
		if largestNewlyAcked == nil || p.pn > largestNewlyAcked.pn {
			largestNewlyAcked = p
		}
	}

	if largestAcked > sp.largestAcked {
		sp.largestAcked = largestAcked
		sp.largestAckedSendTime = largestNewlyAcked.timeSent
	}
	if largestNewlyAcked.pn == largestAcked && largestNewlyAcked.ackEliciting {
		c.loss.rtt.update(ackDelay, now.Sub(largestNewlyAcked.timeSent))
		if tr := c.config.tracer(); tr != nil && tr.UpdatedRTT != nil {
			tr.UpdatedRTT(c.loss.rtt.smoothed, c.loss.rtt.variance, c.loss.rtt.min)
		}
	}

	if ecn != nil {
		if sp.ecn.detectECN(len(newlyAcked), *ecn, 0) {
			c.loss.cc.OnCongestionEvent(now, largestNewlyAcked.timeSent)
		}
	}

	lost, _ := c.loss.detectLost(now, sp)
	c.loss.maybeCongestionEvent(now, sp, lost)
	for _, p := range lost {
		c.applyLostRetransmits(space, p)
		if tr := c.config.tracer(); tr != nil && tr.LostPacket != nil {
			tr.LostPacket(space, p.pn, "ack-threshold")
		}
	}

	if tr := c.config.tracer(); tr != nil && tr.UpdatedCongestionState != nil {
		tr.UpdatedCongestionState(c.loss.cc.Window(), c.loss.cc.BytesInFlight(), c.loss.cc.Ssthresh())
	}

	c.loss.ptoCount = 0
	c.loss.cryptoCount = 0

	if cs := &c.crypto[dataSpace]; cs.prev != nil && cs.prev.updateAckTime.IsZero() {
		if largestNewlyAcked.pn >= cs.prev.endPacket {
			cs.prev.updateAckTime = now
			cs.prev.updateUnacked = false
		}
	}
	return nil
}

// applyAckedRetransmits finalizes the application-visible effects of an
// acknowledged packet's frames: stream bytes, resets, and CID bookkeeping
// (ACK frames themselves need no action beyond discarding the packet).
func (c *Conn) applyAckedRetransmits(space numberSpace, p *sentPacket) {
	for _, frag := range p.retransmits.cryptoFrags {
		_ = frag // Initial/Handshake CRYPTO retransmission bookkeeping is range-based only; nothing further to do once acked.
	}
	for _, frag := range p.retransmits.streamFrags {
		if c.streams.unackedData > uint64(frag.size) {
			c.streams.unackedData -= uint64(frag.size)
		} else {
			c.streams.unackedData = 0
		}
		s := c.streams.get(frag.id)
		if s == nil {
			continue
		}
		s.onSendAcked(frag.offset, frag.size)
		if frag.fin && s.send.finalSize >= 0 && s.allDataAcked() {
			c.addEvent(ConnectionEvent{Kind: EventStreamFinished, Stream: frag.id})
		}
	}
	if len(p.retransmits.streamFrags) > 0 {
		c.streams.wakeBlockedOnConnData()
		c.flushStreamEvents()
	}
	for _, id := range p.retransmits.resetStreams {
		if s := c.streams.get(id); s != nil {
			s.resetAcked()
		}
		delete(c.streams.resetPending, id)
	}
	for _, id := range p.retransmits.stopSendings {
		delete(c.streams.stopSendingPending, id)
	}
	for _, seq := range p.retransmits.newConnectionID {
		_ = seq
	}
	for _, seq := range p.retransmits.retireConnectionID {
		_ = seq
	}
}

// applyLostRetransmits re-queues a lost packet's stream fragments (and a
// lost FIN) on their streams' lost-range sets, from which
// appendStreamDataFrames retransmits them ahead of new data.
func (c *Conn) applyLostRetransmits(space numberSpace, p *sentPacket) {
	for _, frag := range p.retransmits.streamFrags {
		s := c.streams.get(frag.id)
		if s == nil {
			continue
		}
		finLost := frag.fin
		s.onSendLost(frag.offset, frag.size, finLost)
	}
}

// lossDetectionDeadline implements §4.5's loss-detection timer selection:
// the earliest of every space's projected loss time, or (if none is
// armed and some space has in-flight ack-eliciting data, or the
// anti-deadlock condition applies) a PTO deadline.
func (c *Conn) lossDetectionDeadline(now time.Time) (time.Time, bool) {
	var earliestLoss time.Time
	for i := initialSpace; i <= dataSpace; i++ {
		sp := c.spaces[i]
		if sp.discarded || sp.lossTime.IsZero() {
			continue
		}
		if earliestLoss.IsZero() || sp.lossTime.Before(earliestLoss) {
			earliestLoss = sp.lossTime
		}
	}
	if !earliestLoss.IsZero() {
		return earliestLoss, true
	}

	if c.loss.inFlight.ackEliciting == 0 && c.handshakeConfirmed {
		return time.Time{}, false
	}

	// Anti-deadlock: while Initial or Handshake keys are live and we have
	// not yet heard from the peer at all, arm a PTO even with nothing
	// in flight, so the handshake can make progress through loss.
	var pto time.Duration
	var base time.Time
	for i := initialSpace; i <= dataSpace; i++ {
		sp := c.spaces[i]
		if sp.discarded {
			continue
		}
		if sp.lastAckElicitingSent.IsZero() {
			continue
		}
		if base.IsZero() || sp.lastAckElicitingSent.Before(base) {
			base = sp.lastAckElicitingSent
		}
	}
	if base.IsZero() {
		if c.spaces[initialSpace].discarded {
			return time.Time{}, false
		}
		base = now
	}
	includeMaxAckDelay := c.handshakeConfirmed
	pto = backoff(c.loss.pto(includeMaxAckDelay), c.loss.ptoCount)
	return base.Add(pto), true
}

// onLossDetectionTimeout implements §4.5's three-branch timeout handler:
// if a space's loss time has passed, detect losses there; otherwise this
// is a PTO expiry, and we queue probe data.
func (c *Conn) onLossDetectionTimeout(now time.Time) {
	fired := false
	for i := initialSpace; i <= dataSpace; i++ {
		sp := c.spaces[i]
		if sp.discarded || sp.lossTime.IsZero() || sp.lossTime.After(now) {
			continue
		}
		fired = true
		lost, _ := c.loss.detectLost(now, sp)
		c.loss.maybeCongestionEvent(now, sp, lost)
		for _, p := range lost {
			c.applyLostRetransmits(i, p)
		}
	}
	if fired {
		return
	}

	c.loss.ptoCount++
	if !c.handshakeConfirmed {
		c.loss.cryptoCount++
	}

	// Queue probe data: retransmit outstanding Initial/Handshake crypto
	// data (anti-deadlock) or arm a PING in the space with in-flight data,
	// per RFC 9002 Section 6.2.4.
	probed := false
	for i := initialSpace; i <= handshakeSpace; i++ {
		sp := c.spaces[i]
		if sp.discarded || len(sp.sent) == 0 {
			continue
		}
		for pn, p := range sp.sent {
			mergeRetransmits(&sp.pending, p.retransmits)
			c.loss.inFlight.remove(p)
			c.loss.cc.OnPacketDiscarded(uint64(p.size))
			delete(sp.sent, pn)
		}
		sp.pending.ping = true
		probed = true
	}
	if !probed {
		sp := c.spaces[dataSpace]
		if !sp.discarded {
			sp.pending.ping = true
		}
	}
}
