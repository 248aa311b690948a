// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// frameOverheadGuess is a conservative upper bound on a small frame's
// encoded size (type plus a couple of varints), used to decide whether one
// more optional frame still fits in the packet being built. CRYPTO and
// STREAM frames, whose payload dominates their size, are sized exactly
// instead of guessed.
const frameOverheadGuess = 24

// PollTransmit builds the next datagram this Conn wants sent, or returns
// ok=false if there is nothing to send right now. The host should call it
// again after ReceiveDatagram, after a local Write/OpenStream/Close, or
// when a PollTimers deadline fires.
func (c *Conn) PollTransmit(now time.Time) (xmit Transmit, ok bool) {
	if c.state == stateDrained {
		return Transmit{}, false
	}
	if c.state >= stateClosing {
		return c.pollTransmitClosing(now)
	}
	if t, ok := c.pollOffPathResponse(now); ok {
		return t, true
	}

	// Assume the window is fully used; below, this is set back to true if
	// nothing was sent although the congestion window still has room.
	c.loss.cc.SetUnderutilized(false)
	c.maybeRequestLocalConnID()

	maxSize := int(c.config.maxDatagramSize())
	if limit := c.amplificationLimit(); limit >= 0 && limit < maxSize {
		maxSize = limit
	}
	if maxSize <= 0 {
		return Transmit{}, false
	}
	c.w.reset(maxSize)

	sentAny := false
	needsInitialPadding := false
	for space := initialSpace; space <= handshakeSpace; space++ {
		sp := c.spaces[space]
		cs := &c.crypto[space]
		if sp.discarded || !cs.write.isSet() || !c.hasSomethingToSend(space) {
			continue
		}
		if !c.appendLongHeaderPacket(now, space) {
			continue
		}
		sentAny = true
		if space == initialSpace && c.side == clientSide {
			needsInitialPadding = true
		}
		if space == handshakeSpace && c.side == clientSide {
			// RFC 9001, Section 4.9.1: a client discards Initial keys upon
			// sending its first Handshake-space packet.
			c.discardKeys(now, initialSpace)
		}
	}

	if sp := c.spaces[dataSpace]; !sp.discarded && c.crypto[dataSpace].write.isSet() && c.hasSomethingToSend(dataSpace) {
		if c.append1RTTPacket(now, needsInitialPadding) {
			sentAny = true
			needsInitialPadding = false // padded inside the 1-RTT payload instead
		}
	}

	if !sentAny {
		if c.loss.cc.CanSend(0) {
			c.loss.cc.SetUnderutilized(true)
		}
		return Transmit{}, false
	}
	if needsInitialPadding {
		// No 1-RTT packet absorbed the padding: a long-header packet has an
		// explicit length field, so trailing zero bytes here are parsed by
		// the peer as a separate (and harmlessly invalid) packet rather than
		// corrupting the one we just wrote (RFC 9000, Section 14.1).
		c.w.appendPaddingTo(minInitialSize)
	}

	out := c.w.datagram()
	c.bytesSent += uint64(len(out))
	c.lastSendTime = now
	c.touchIdleTimeout(now)
	return Transmit{Destination: c.remoteAddr, Packet: out}, true
}

// pollOffPathResponse builds a minimal PATH_RESPONSE-only datagram
// addressed to an off-path challenger, draining one queued response per
// call. It never carries any other frame: bundling application data onto
// an unvalidated address would extend this Conn's amplification budget to
// a path it has not confirmed the peer controls (§4.9, §8.1).
func (c *Conn) pollOffPathResponse(now time.Time) (Transmit, bool) {
	if len(c.offPathResponses) == 0 {
		return Transmit{}, false
	}
	cs := &c.crypto[dataSpace]
	if !cs.write.isSet() {
		return Transmit{}, false
	}
	dst, ok := c.ids.dstConnID()
	if !ok {
		return Transmit{}, false
	}
	resp := c.offPathResponses[0]
	c.offPathResponses = c.offPathResponses[1:]

	sp := c.spaces[dataSpace]
	c.w.reset(int(c.config.maxDatagramSize()))
	largestAcked := sp.largestAcked
	pnum := sp.allocateNumber()
	c.w.start1RTTPacket(pnum, largestAcked, dst, cs.keyPhase, false)
	c.w.appendPathResponseFrame(resp.data)
	sent := c.w.finish1RTTPacket(pnum, largestAcked, dst, cs.write)
	if sent == nil {
		return Transmit{}, false
	}
	c.recordSentPacket(now, dataSpace, sent)
	out := c.w.datagram()
	c.bytesSent += uint64(len(out))
	return Transmit{Destination: resp.addr, Packet: out}, true
}

// hasSomethingToSend reports whether space has an ACK, a retransmission,
// or new data to send, without mutating any state.
func (c *Conn) hasSomethingToSend(space numberSpace) bool {
	sp := c.spaces[space]
	if sp.permitAckOnly && !sp.pendingAcks.isEmpty() {
		return true
	}
	if space != dataSpace {
		return !sp.pending.isEmpty()
	}
	if !sp.pending.isEmpty() {
		return true
	}
	if c.sendHandshakeDone || c.pendingPathResponse != nil || c.pathChallengePending {
		return true
	}
	if c.ids.hasPendingNewConnectionIDs() || c.ids.hasPendingRetireConnectionIDs() {
		return true
	}
	st := c.streams
	if st.maxDataPending || st.maxStreamsBidiPending || st.maxStreamsUniPending {
		return true
	}
	if len(st.maxStreamDataExtend) > 0 || len(st.streamDataBlockedPending) > 0 {
		return true
	}
	if len(st.resetPending) > 0 || len(st.stopSendingPending) > 0 {
		return true
	}
	for _, s := range st.byID {
		if streamHasPendingSend(s) {
			return true
		}
	}
	return false
}

// streamHasPendingSend reports whether a stream has data, a lost
// fragment, or a bare FIN still to transmit.
func streamHasPendingSend(s *stream) bool {
	if len(s.send.lost) > 0 {
		return true
	}
	if s.send.sentTo < s.send.offset {
		return true
	}
	return s.send.finalSize >= 0 && !s.send.finSent && s.send.sentTo == uint64(s.send.finalSize)
}

// appendLongHeaderPacket builds one Initial or Handshake packet into the
// shared datagram buffer, returning whether it carried any frames.
func (c *Conn) appendLongHeaderPacket(now time.Time, space numberSpace) bool {
	sp := c.spaces[space]
	cs := &c.crypto[space]

	ptype := packetTypeInitial
	if space == handshakeSpace {
		ptype = packetTypeHandshake
	}
	dst, _ := c.ids.dstConnID()
	var token []byte
	if ptype == packetTypeInitial && c.side == clientSide {
		token = c.retryToken
	}

	largestAcked := sp.largestAcked
	pnum := sp.allocateNumber()
	lp := longPacket{
		ptype:     ptype,
		version:   quicVersion1,
		num:       pnum,
		dstConnID: dst,
		srcConnID: c.ids.srcConnID(),
		token:     token,
	}

	c.w.startProtectedLongHeaderPacket(largestAcked, lp)
	c.appendFrames(now, space)
	sent := c.w.finishProtectedLongHeaderPacket(largestAcked, cs.write, lp)
	if sent == nil {
		return false
	}
	c.recordSentPacket(now, space, sent)
	return true
}

// append1RTTPacket builds one 1-RTT packet into the shared datagram
// buffer, padding it to minInitialSize first if pad is set (used to carry
// a coalesced client Initial packet's required padding, since a 1-RTT
// packet has no length field to let trailing bytes fall outside it). It
// returns whether the packet carried any frames.
func (c *Conn) append1RTTPacket(now time.Time, pad bool) bool {
	sp := c.spaces[dataSpace]
	cs := &c.crypto[dataSpace]

	dst, ok := c.ids.dstConnID()
	if !ok {
		return false
	}
	largestAcked := sp.largestAcked
	pnum := sp.allocateNumber()

	c.w.start1RTTPacket(pnum, largestAcked, dst, cs.keyPhase, false)
	c.appendFrames(now, dataSpace)
	if pad && len(c.w.payload()) > 0 {
		c.w.appendPaddingTo(minInitialSize)
	}
	sent := c.w.finish1RTTPacket(pnum, largestAcked, dst, cs.write)
	if sent == nil {
		return false
	}
	c.recordSentPacket(now, dataSpace, sent)
	return true
}

// appendFrames fills the packet currently under construction in c.w, in
// roughly the priority order the teacher's sender uses: acks and control
// frames first, then bulk data.
func (c *Conn) appendFrames(now time.Time, space numberSpace) {
	sp := c.spaces[space]

	c.appendAck(now, space)

	if sp.pending.ping && c.w.remaining() >= 1 {
		c.w.appendPing()
		sp.pending.ping = false
	}

	if space != dataSpace {
		c.appendCryptoFrames(space)
		return
	}

	if c.pendingPathResponse != nil && c.w.remaining() >= 9 {
		c.w.appendPathResponseFrame(*c.pendingPathResponse)
		c.pendingPathResponse = nil
	}

	if c.pathChallengePending && c.w.remaining() >= 9 {
		c.w.appendPathChallengeFrame(c.pathChallenge)
	}

	c.appendCryptoFrames(space)

	if c.sendHandshakeDone && c.w.remaining() >= 1 {
		c.w.appendHandshakeDoneFrame()
		c.sendHandshakeDone = false
	}

	c.appendResetStreams()
	c.appendStopSendings()
	c.appendConnControlFrames()
	c.appendStreamDataFrames()
	c.appendCIDFrames()
}

// appendAck appends an ACK frame if this space has received packets to
// acknowledge. Initial and Handshake ACKs go out immediately (ack_delay is
// always 0 pre-confirmation, per RFC 9000 Section 13.2.1); Data-space ACKs
// are sent opportunistically, on every packet built while an ack-eliciting
// packet remains unacknowledged, rather than on a separate delayed-ack
// timer. ACK_ECN is sent whenever this space has observed ECN codepoints on
// incoming datagrams (§4.2), echoing our received counts back so the peer
// can run its own detectECN over them.
func (c *Conn) appendAck(now time.Time, space numberSpace) {
	sp := c.spaces[space]
	if sp.pendingAcks.isEmpty() || !sp.permitAckOnly {
		return
	}
	if c.w.remaining() < 8 {
		return
	}

	var ackDelay time.Duration
	if space == dataSpace {
		ackDelay = now.Sub(sp.rxPacketTime)
		if ackDelay < 0 {
			ackDelay = 0
		}
	}

	var ecn *ecnCounts
	if sp.haveECNCounts {
		counts := sp.recvECN
		ecn = &counts
	}
	c.w.appendAckFrame(limitAckRanges(sp.pendingAcks), uint64(ackDelay/time.Microsecond), ackDelayExponent, ecn)
	sp.pendingAcks = nil
	sp.permitAckOnly = false
}

// limitAckRanges caps the number of ranges an ACK frame encodes, keeping
// the highest-numbered (most recent) ranges when there are more than
// maxAckBlocks (§6).
func limitAckRanges(ranges rangeSet) rangeSet {
	if len(ranges) <= maxAckBlocks {
		return ranges
	}
	return ranges[len(ranges)-maxAckBlocks:]
}

// appendCryptoFrames drains space's outgoing CRYPTO queue, which holds
// both first-time data (queued by driveHandshake) and data re-queued
// after loss (queued by loss.go's mergeRetransmits): both are ranges into
// the same append-only cryptoOut buffer, so one loop handles either case.
func (c *Conn) appendCryptoFrames(space numberSpace) {
	sp := c.spaces[space]
	for len(sp.pending.cryptoFrags) > 0 {
		frag := sp.pending.cryptoFrags[0]
		avail := c.w.remaining() - 16 // frame type + offset + length varints
		if avail <= 0 {
			return
		}
		end := frag.end
		if end-frag.start > uint64(avail) {
			end = frag.start + uint64(avail)
		}
		c.w.appendCryptoFrame(frag.start, sp.cryptoOut[frag.start:end], space)
		if end == frag.end {
			sp.pending.cryptoFrags = sp.pending.cryptoFrags[1:]
		} else {
			sp.pending.cryptoFrags[0] = rangeOff{start: end, end: frag.end}
		}
	}
}

// appendResetStreams sends a RESET_STREAM frame for every stream still
// recorded as pending a reset, whether newly requested by Stream.Reset or
// re-queued after the original transmission was lost; resetPending stays
// set until the frame is acknowledged (conn_loss.go), so it alone is the
// source of truth -- the generic per-packet retransmit record for this
// frame type is discarded here rather than consulted separately.
func (c *Conn) appendResetStreams() {
	c.spaces[dataSpace].pending.resetStreams = nil
	for id := range c.streams.resetPending {
		s := c.streams.get(id)
		if s == nil || s.send.state != streamSendResetSent {
			continue
		}
		if c.w.remaining() < frameOverheadGuess {
			return
		}
		c.w.appendResetStreamFrame(id, s.send.resetCode, s.send.offset)
	}
}

// appendStopSendings mirrors appendResetStreams for STOP_SENDING frames.
func (c *Conn) appendStopSendings() {
	c.spaces[dataSpace].pending.stopSendings = nil
	for id, code := range c.streams.stopSendingPending {
		if c.w.remaining() < frameOverheadGuess {
			return
		}
		c.w.appendStopSendingFrame(id, code)
	}
}

// appendConnControlFrames sends MAX_DATA, MAX_STREAM_DATA, and MAX_STREAMS
// frames, driven either by newly available budget (streamsState's
// *Pending flags) or by a previous frame of the same kind having been lost
// (packetSpace.pending, populated by loss.go's mergeRetransmits); either
// way the frame simply re-advertises the current limit, which is always
// safe to repeat.
func (c *Conn) appendConnControlFrames() {
	sp := c.spaces[dataSpace]
	st := c.streams

	if (st.maxDataPending || sp.pending.maxData) && c.w.remaining() >= frameOverheadGuess {
		c.w.appendMaxDataFrame(st.localMaxData)
		st.maxDataPending = false
		sp.pending.maxData = false
	}

	if (st.maxStreamsBidiPending || sp.pending.maxStreamsBidi) && c.w.remaining() >= frameOverheadGuess {
		if st.maxStreamsBidiPending {
			st.remoteLimitBidi += c.config.streamWindowBidi()
		}
		c.w.appendMaxStreamsFrame(StreamBidi, st.remoteLimitBidi)
		st.maxStreamsBidiPending = false
		sp.pending.maxStreamsBidi = false
	}
	if (st.maxStreamsUniPending || sp.pending.maxStreamsUni) && c.w.remaining() >= frameOverheadGuess {
		if st.maxStreamsUniPending {
			st.remoteLimitUni += c.config.streamWindowUni()
		}
		c.w.appendMaxStreamsFrame(StreamUni, st.remoteLimitUni)
		st.maxStreamsUniPending = false
		sp.pending.maxStreamsUni = false
	}

	for id := range st.maxStreamDataExtend {
		if c.w.remaining() < frameOverheadGuess {
			break
		}
		if s := st.get(id); s != nil {
			c.w.appendMaxStreamDataFrame(id, s.recv.maxData)
		}
		delete(st.maxStreamDataExtend, id)
		delete(st.streamDataBlockedPending, id)
	}
	for id := range sp.pending.maxStreamData {
		if c.w.remaining() < frameOverheadGuess {
			break
		}
		if s := st.get(id); s != nil {
			c.w.appendMaxStreamDataFrame(id, s.recv.maxData)
		}
		delete(sp.pending.maxStreamData, id)
	}
	for id := range st.streamDataBlockedPending {
		if c.w.remaining() < frameOverheadGuess {
			break
		}
		if s := st.get(id); s != nil {
			c.w.appendMaxStreamDataFrame(id, s.recv.maxData)
		}
		delete(st.streamDataBlockedPending, id)
	}
}

// appendStreamDataFrames sends STREAM frames for every stream with new or
// lost data to transmit, clipping each to the remaining packet capacity.
// New data is held back while the congestion window has no spare capacity;
// lost data and control frames are not (the loss has already happened, and
// control frames are cheap relative to the budget they unblock).
func (c *Conn) appendStreamDataFrames() {
	sp := c.spaces[dataSpace]
	sp.pending.streamFrags = nil

	ccOK := c.loss.cc.CanSend(0)
	for id, s := range c.streams.byID {
		for streamHasPendingSend(s) {
			if len(s.send.lost) == 0 && !ccOK {
				break
			}
			avail := c.w.remaining() - 16
			if avail <= 0 {
				return
			}
			offset, data, fin, ok := nextStreamSendFrag(s, avail)
			if !ok {
				break
			}
			c.w.appendStreamFrame(id, offset, data, fin)
		}
	}
}

// nextStreamSendFrag returns the next fragment of s's send buffer to
// transmit, up to maxLen bytes: a lost range first (retransmission takes
// priority over new data), then new data, then a bare FIN if all data has
// gone out but the FIN frame itself has not.
func nextStreamSendFrag(s *stream, maxLen int) (offset uint64, data []byte, fin bool, ok bool) {
	if maxLen <= 0 {
		return 0, nil, false, false
	}
	if len(s.send.lost) > 0 {
		r := s.send.lost[0]
		end := r.end
		if end-r.start > uint64(maxLen) {
			end = r.start + uint64(maxLen)
		}
		data = streamBufSlice(s, r.start, end)
		s.send.lost.sub(r.start, end)
		fin = s.send.finalSize >= 0 && end == uint64(s.send.finalSize) && !s.send.finSent
		if fin {
			s.send.finSent = true
		}
		return r.start, data, fin, true
	}
	if s.send.sentTo < s.send.offset {
		off := s.send.sentTo
		end := s.send.offset
		if end-off > uint64(maxLen) {
			end = off + uint64(maxLen)
		}
		data = streamBufSlice(s, off, end)
		s.send.sentTo = end
		fin = s.send.finalSize >= 0 && end == uint64(s.send.finalSize) && !s.send.finSent
		if fin {
			s.send.finSent = true
		}
		return off, data, fin, true
	}
	if s.send.finalSize >= 0 && !s.send.finSent && s.send.sentTo == uint64(s.send.finalSize) {
		s.send.finSent = true
		return s.send.offset, nil, true, true
	}
	return 0, nil, false, false
}

// streamBufSlice returns s's send buffer bytes for the absolute offset
// range [start, end), which must lie within [s.send.base, s.send.base +
// len(s.send.buf)).
func streamBufSlice(s *stream, start, end uint64) []byte {
	return s.send.buf[start-s.send.base : end-s.send.base]
}

// appendCIDFrames sends NEW_CONNECTION_ID and RETIRE_CONNECTION_ID frames
// for connection IDs this host has issued or retired since the last call.
func (c *Conn) appendCIDFrames() {
	sp := c.spaces[dataSpace]
	sp.pending.newConnectionID = nil
	sp.pending.retireConnectionID = nil

	for _, id := range c.ids.pendingNewConnectionIDs() {
		if c.w.remaining() < frameOverheadGuess+len(id.cid) {
			continue
		}
		c.w.appendNewConnectionIDFrame(id.seq, 0, id.cid, id.resetToken)
	}
	for _, seq := range c.ids.pendingRetireConnectionIDs() {
		if c.w.remaining() < frameOverheadGuess {
			continue
		}
		c.w.appendRetireConnectionIDFrame(seq)
	}
}

// maybeRequestLocalConnID asks the owning endpoint, via
// EndpointNeedIdentifiers, to supply a fresh local connection ID once the
// handshake is past its first flight, whenever the host's pool of spares
// has run low (§4.9), so a future migration need not stall on a round
// trip. The Conn never mints its own connection IDs: the endpoint owns
// the routing table they must be unique within, and is the one that can
// guarantee that (§5/§6).
func (c *Conn) maybeRequestLocalConnID() {
	if c.state == stateHandshake {
		return
	}
	if c.ids.needMoreLocalIDs() && !c.needIdentifiersRequested {
		c.needIdentifiersRequested = true
		c.addEndpointEvent(EndpointEvent{Kind: EndpointNeedIdentifiers})
	}
}

// AddLocalConnID supplies a connection ID, generated and reserved by the
// owning endpoint, for this Conn to advertise to the peer via
// NEW_CONNECTION_ID (§4.9). Call it in response to an
// EndpointNeedIdentifiers event from PollEndpointEvents.
func (c *Conn) AddLocalConnID(cid []byte) int64 {
	c.needIdentifiersRequested = false
	return c.ids.issueLocal(cid)
}

// recordSentPacket updates loss detection, congestion control, and
// diagnostics bookkeeping for a packet that was just placed on the wire.
func (c *Conn) recordSentPacket(now time.Time, space numberSpace, sent *sentPacket) {
	sent.timeSent = now
	sp := c.spaces[space]
	sp.recordSent(sent)
	c.loss.inFlight.add(sent)
	c.loss.cc.OnPacketSent(uint64(sent.size))
	if d := c.config.keepAlivePeriod(); d > 0 && sent.ackEliciting {
		c.keepAliveAt = now.Add(d)
	}
	if tr := c.config.tracer(); tr.SentPacket != nil {
		tr.SentPacket(space, sent.pn, sent.size, sent.ackEliciting)
	}
}

// pollTransmitClosing builds the single CONNECTION_CLOSE packet a
// locally-closing connection sends, at the highest encryption level
// currently available. RFC 9000 recommends re-sending it whenever another
// packet arrives from the peer during the drain period; this core sends
// it exactly once per Close/closeTransport call instead, a deliberate
// simplification given the absence of a retransmission trigger once a
// connection has entered its terminal state.
func (c *Conn) pollTransmitClosing(now time.Time) (Transmit, bool) {
	if c.closeSent || c.state != stateClosing {
		return Transmit{}, false
	}
	space := initialSpace
	for s := initialSpace; s <= dataSpace; s++ {
		if !c.spaces[s].discarded && c.crypto[s].write.isSet() {
			space = s
		}
	}
	cs := &c.crypto[space]
	if !cs.write.isSet() {
		return Transmit{}, false
	}

	c.w.reset(int(c.config.maxDatagramSize()))
	sp := c.spaces[space]
	pnum := sp.allocateNumber()
	largestAcked := sp.largestAcked

	var sent *sentPacket
	if space == dataSpace {
		dst, ok := c.ids.dstConnID()
		if !ok {
			return Transmit{}, false
		}
		c.w.start1RTTPacket(pnum, largestAcked, dst, cs.keyPhase, false)
		c.appendCloseFrame()
		sent = c.w.finish1RTTPacket(pnum, largestAcked, dst, cs.write)
	} else {
		ptype := packetTypeInitial
		if space == handshakeSpace {
			ptype = packetTypeHandshake
		}
		dst, _ := c.ids.dstConnID()
		lp := longPacket{
			ptype:     ptype,
			version:   quicVersion1,
			num:       pnum,
			dstConnID: dst,
			srcConnID: c.ids.srcConnID(),
		}
		c.w.startProtectedLongHeaderPacket(largestAcked, lp)
		c.appendCloseFrame()
		sent = c.w.finishProtectedLongHeaderPacket(largestAcked, cs.write, lp)
	}
	if sent == nil {
		return Transmit{}, false
	}
	c.closeSent = true
	out := c.w.datagram()
	c.bytesSent += uint64(len(out))
	return Transmit{Destination: c.remoteAddr, Packet: out}, true
}

func (c *Conn) appendCloseFrame() {
	c.w.appendConnectionCloseFrame(c.closeApp, uint64(c.closeCode), 0, c.closeReason)
}

// sendKeepAlive arms a PING in the Data space, fired by OnTimeout when the
// keep-alive timer expires (Config.KeepAlivePeriod).
func (c *Conn) sendKeepAlive(now time.Time) {
	if c.state != stateHandshake && c.state != stateEstablished {
		return
	}
	c.spaces[dataSpace].pending.ping = true
	if d := c.config.keepAlivePeriod(); d > 0 {
		c.keepAliveAt = now.Add(d)
	}
}
