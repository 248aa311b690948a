// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"net/netip"
	"time"
)

// ReceiveDatagram processes one UDP datagram received from the peer at
// remote with the given ECN codepoint. A datagram may coalesce several
// QUIC packets (§4.8); each is decrypted and its frames applied in turn.
// Packets this core cannot yet decrypt (keys not installed) or that fail
// authentication are silently dropped, per RFC 9000, Section 12.2 and
// Section 9001's AEAD-failure handling -- never reported as an error to
// the caller, since a single corrupt or out-of-order packet must not take
// down the connection. remote drives path migration (§4.9): a
// non-probing packet from an address other than the Conn's current path
// triggers one.
func (c *Conn) ReceiveDatagram(now time.Time, remote netip.AddrPort, ecn ECNCodepoint, buf []byte) {
	if c.state == stateDrained {
		return
	}
	c.bytesReceived += uint64(len(buf))
	for len(buf) > 0 {
		if isLongHeader(buf[0]) {
			n := c.receiveLongHeaderPacket(now, remote, ecn, buf)
			if n <= 0 {
				return
			}
			buf = buf[n:]
		} else {
			c.receiveShortHeaderPacket(now, remote, ecn, buf)
			return // a short-header packet is never coalesced with anything after it
		}
	}
}

func (c *Conn) receiveLongHeaderPacket(now time.Time, remote netip.AddrPort, ecn ECNCodepoint, buf []byte) int {
	h, ok := parseLongHeaderPacket(buf)
	if !ok {
		return -1
	}
	if h.version == 0 {
		c.handleVersionNegotiation(buf)
		return -1
	}
	if !isSupportedVersion(h.version) {
		return -1
	}
	if h.ptype == packetTypeRetry {
		c.handleRetry(now, buf, h)
		return -1
	}

	space := spaceForPacketType(h.ptype)
	sp := c.spaces[space]
	if sp.discarded {
		return h.pnOffset + h.payloadLen
	}
	cs := &c.crypto[space]
	if !cs.read.isSet() {
		return h.pnOffset + h.payloadLen
	}

	pn, payload, consumed, err := decryptLongHeaderPacket(buf, h, cs.read, sp.rxPacket)
	if err != nil {
		return h.pnOffset + h.payloadLen // undecryptable; skip just this packet
	}
	if sp.dedup.insert(pn) == false {
		return consumed // duplicate
	}
	c.touchIdleTimeout(now)
	if h.ptype == packetTypeInitial && c.side == serverSide && !c.haveValidatedClient {
		c.haveValidatedClient = true
	}
	recordECN(sp, ecn)
	ackEliciting, _ := c.processFrames(now, space, remote, payload)
	c.recordReceivedPacket(now, space, pn, ackEliciting)
	return consumed
}

// receiveShortHeaderPacket decrypts a 1-RTT packet with one key
// generation: the current one if the key-phase bit matches; otherwise the
// previous one if the packet number is below the last update's end packet
// (a packet reordered from before that update); otherwise the next
// generation, not yet installed, which is promoted if it decrypts. Header
// protection is removed once, before that choice, since it never changes
// across a key update (RFC 9001, Section 6) (§4.10).
func (c *Conn) receiveShortHeaderPacket(now time.Time, remote netip.AddrPort, ecn ECNCodepoint, buf []byte) {
	h, ok := parseShortHeaderPacket(buf, connIDLength)
	if !ok {
		return
	}
	sp := c.spaces[dataSpace]
	cs := &c.crypto[dataSpace]
	if !cs.read.isSet() {
		if c.ids.isValidStatelessResetToken(statelessResetTokenFromTail(buf)) {
			c.handleStatelessReset(now)
		}
		return
	}

	pn, keyPhase, header, ciphertext, err := unprotectShortHeaderPacket(buf, h, cs.read, sp.rxPacket)
	if err != nil {
		if c.ids.isValidStatelessResetToken(statelessResetTokenFromTail(buf)) {
			c.handleStatelessReset(now)
		}
		return
	}

	var payload []byte
	promoted := false
	switch {
	case keyPhase == cs.keyPhase:
		payload, err = decryptWith(cs.read, pn, header, ciphertext)
	case cs.prev != nil && pn < cs.prev.endPacket:
		// A reordered packet sent before our own last update, under the
		// phase we have since moved away from.
		payload, err = decryptWith(cs.prev.read, pn, header, ciphertext)
	default:
		// The peer's phase bit has flipped relative to ours: try the next
		// generation we have not yet installed before concluding the
		// packet is simply undecryptable.
		var nextRead keys
		nextRead, _, err = c.nextDataKeys()
		if err == nil {
			payload, err = decryptWith(nextRead, pn, header, ciphertext)
			if err == nil {
				promoted = true
			}
		}
	}
	if err != nil {
		if c.ids.isValidStatelessResetToken(statelessResetTokenFromTail(buf)) {
			c.handleStatelessReset(now)
		}
		return
	}
	if !sp.dedup.insert(pn) {
		return
	}
	if promoted {
		c.handlePacketKeyPhase(now, pn)
	}
	c.touchIdleTimeout(now)
	recordECN(sp, ecn)
	ackEliciting, nonProbing := c.processFrames(now, dataSpace, remote, payload)
	c.recordReceivedPacket(now, dataSpace, pn, ackEliciting)

	if c.side == serverSide && remote != c.remoteAddr && nonProbing {
		c.migrate(now, remote)
	}
}

// recordECN folds one datagram's ECN codepoint into sp's received-counts
// bookkeeping, for echoing back to the peer via ACK_ECN (§4.2).
func recordECN(sp *packetSpace, ecn ECNCodepoint) {
	if ecn == ECNNotECT {
		return
	}
	sp.haveECNCounts = true
	switch ecn {
	case ECNECT0:
		sp.recvECN.ect0++
	case ECNECT1:
		sp.recvECN.ect1++
	case ECNCE:
		sp.recvECN.ce++
	}
}

// statelessResetTokenFromTail extracts the last 16 bytes of a datagram,
// the position a stateless reset token always occupies (RFC 9000,
// Section 10.3).
func statelessResetTokenFromTail(buf []byte) []byte {
	if len(buf) < resetTokenSize {
		return nil
	}
	return buf[len(buf)-resetTokenSize:]
}

// recordReceivedPacket updates the space's ack-eliciting bookkeeping so
// the send path knows to schedule an ACK, per §4.1/§4.6.
func (c *Conn) recordReceivedPacket(now time.Time, space numberSpace, pn packetNumber, ackEliciting bool) {
	sp := c.spaces[space]
	sp.pendingAcks.add(pn, pn+1)
	if pn > sp.rxPacket {
		sp.rxPacket = pn
		sp.rxPacketTime = now
	}
	if ackEliciting {
		sp.permitAckOnly = true
	}
}

// processFrames runs the frame loop over one packet's decrypted payload,
// dispatching each frame to its handler, and reports whether the packet
// was ack-eliciting (carried at least one frame other than ACK, PADDING
// or CONNECTION_CLOSE) and whether it was non-probing (carried a frame
// other than PADDING, PATH_CHALLENGE, PATH_RESPONSE, or NEW_CONNECTION_ID -- RFC 9000,
// Section 9.3's definition of the frames that do not by themselves
// justify switching to a new peer address).
func (c *Conn) processFrames(now time.Time, space numberSpace, remote netip.AddrPort, payload []byte) (ackEliciting, nonProbing bool) {
	for len(payload) > 0 {
		t := payload[0]
		ft := frameType(t)
		rest := payload[1:]
		switch {
		case ft == frameTypePadding:
			payload = rest
			continue
		case ft == frameTypePing:
			ackEliciting = true
			nonProbing = true
			payload = rest
			continue
		case ft == frameTypeAck || ft == frameTypeAckECN:
			f, n, ok := parseAckFrame(rest, ft)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated ACK frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			exp := uint8(ackDelayExponent)
			if c.haveRemoteTP {
				exp = c.remoteTP.AckDelayExponent
			}
			ackDelay := time.Duration(f.ackDelay<<exp) * time.Microsecond
			if space != dataSpace {
				ackDelay = 0 // RFC 9000 Section 13.2.1: ack_delay is always 0 in Initial/Handshake
			} else if max := c.remoteTP.MaxAckDelay; c.haveRemoteTP && ackDelay > max {
				ackDelay = max
			}
			nonProbing = true
			c.handleAck(now, space, f.largestAcked, ackDelay, f.ranges, f.ecn)
			payload = rest[n:]
			continue
		case ft == frameTypeCrypto:
			f, n, ok := parseCryptoFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated CRYPTO frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			c.handleCryptoFrame(now, space, f.offset, f.data)
			payload = rest[n:]
			continue
		case isStreamFrameType(t):
			f, n, ok := parseStreamFrame(rest, t)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated STREAM frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			if err := c.handleStreamFrame(now, f.id, f.offset, f.data, f.fin); err != nil {
				if te, ok := err.(*TransportError); ok {
					c.closeTransport(now, te)
				}
				return ackEliciting, nonProbing
			}
			payload = rest[n:]
			continue
		case ft == frameTypeResetStream:
			f, n, ok := parseResetStreamFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated RESET_STREAM frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			c.handleResetStreamFrame(now, f.id, f.code, f.finalSize)
			payload = rest[n:]
			continue
		case ft == frameTypeStopSending:
			f, n, ok := parseStopSendingFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated STOP_SENDING frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			c.handleStopSendingFrame(now, f.id, f.code)
			payload = rest[n:]
			continue
		case ft == frameTypeMaxData:
			max, n, ok := parseMaxDataFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated MAX_DATA frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			if max > c.streams.maxData {
				c.streams.maxData = max
				c.streams.wakeBlockedOnConnData()
			}
			payload = rest[n:]
			continue
		case ft == frameTypeMaxStreamData:
			id, max, n, ok := parseMaxStreamDataFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated MAX_STREAM_DATA frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			if s := c.streams.get(id); s != nil && max > s.send.maxData {
				s.send.maxData = max
				c.streams.wakeBlockedOnStreamData(id)
			}
			payload = rest[n:]
			continue
		case ft == frameTypeMaxStreamsBidi || ft == frameTypeMaxStreamsUni:
			max, n, ok := parseMaxStreamsFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated MAX_STREAMS frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			if ft == frameTypeMaxStreamsBidi {
				if max > c.streams.localLimitBidi {
					c.streams.localLimitBidi = max
					c.addEvent(ConnectionEvent{Kind: EventStreamAvailable, Dir: StreamBidi})
				}
			} else if max > c.streams.localLimitUni {
				c.streams.localLimitUni = max
				c.addEvent(ConnectionEvent{Kind: EventStreamAvailable, Dir: StreamUni})
			}
			payload = rest[n:]
			continue
		case ft == frameTypeDataBlocked:
			_, n, ok := parseMaxDataFrame(rest) // same varint-only shape
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated DATA_BLOCKED frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			c.streams.maxDataPending = true
			payload = rest[n:]
			continue
		case ft == frameTypeStreamDataBlocked:
			id, _, n, ok := parseMaxStreamDataFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated STREAM_DATA_BLOCKED frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			c.streams.streamDataBlockedPending[id] = true
			payload = rest[n:]
			continue
		case ft == frameTypeStreamsBlockedBidi || ft == frameTypeStreamsBlockedUni:
			_, n, ok := parseMaxStreamsFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated STREAMS_BLOCKED frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			if ft == frameTypeStreamsBlockedBidi {
				c.streams.maxStreamsBidiPending = true
			} else {
				c.streams.maxStreamsUniPending = true
			}
			payload = rest[n:]
			continue
		case ft == frameTypeNewConnectionID:
			// Probing: issuing a spare connection ID does not by itself
			// justify switching the peer address we send to (RFC 9000,
			// Section 9.3).
			f, n, ok := parseNewConnectionIDFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated NEW_CONNECTION_ID frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			if err := c.ids.handleNewConnectionID(f.seq, f.retirePriorTo, f.cid, f.resetToken); err != nil {
				c.closeTransport(now, err.(*TransportError))
				return ackEliciting, nonProbing
			}
			payload = rest[n:]
			continue
		case ft == frameTypeRetireConnectionID:
			seq, n, ok := parseRetireConnectionIDFrame(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated RETIRE_CONNECTION_ID frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			nonProbing = true
			c.ids.handleRetireConnectionID(seq)
			payload = rest[n:]
			continue
		case ft == frameTypePathChallenge:
			// Probing. An on-path challenge (from the address this Conn is
			// already sending to) is answered on the regular send path; an
			// off-path challenge is answered without adopting that address
			// (§4.9).
			data, n, ok := parsePathData(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated PATH_CHALLENGE frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			if remote == c.remoteAddr {
				c.pendingPathResponse = &data
			} else {
				c.queueOffPathResponse(remote, data)
			}
			payload = rest[n:]
			continue
		case ft == frameTypePathResponse:
			// Probing.
			data, n, ok := parsePathData(rest)
			if !ok {
				c.closeTransport(now, frameErr(ft, "truncated PATH_RESPONSE frame").(*TransportError))
				return ackEliciting, nonProbing
			}
			ackEliciting = true
			c.handlePathResponse(now, remote, data)
			payload = rest[n:]
			continue
		case ft == frameTypeConnectionClose || ft == frameTypeConnectionCloseApp:
			app := ft == frameTypeConnectionCloseApp
			f, n, ok := parseConnectionCloseFrame(rest, app)
			if !ok {
				return ackEliciting, nonProbing
			}
			nonProbing = true
			c.handleConnectionClose(now, app, f.code, f.reason)
			payload = rest[n:]
			continue
		case ft == frameTypeHandshakeDone:
			ackEliciting = true
			nonProbing = true
			if c.side == clientSide {
				c.onHandshakeConfirmed(now)
			}
			payload = rest
			continue
		default:
			c.closeTransport(now, frameErr(ft, "unknown frame type").(*TransportError))
			return ackEliciting, nonProbing
		}
	}
	c.flushStreamEvents()
	return ackEliciting, nonProbing
}

// flushStreamEvents turns budget-widening bookkeeping accumulated while
// processing frames into the EventStreamWritable events the host expects.
func (c *Conn) flushStreamEvents() {
	for id := range c.streams.writable {
		c.addEvent(ConnectionEvent{Kind: EventStreamWritable, Stream: id})
	}
	c.streams.writable = make(map[StreamID]bool)
}

// handleCryptoFrame delivers CRYPTO data to the TLS session in order,
// buffering out-of-order fragments in the space's crypto reassembler.
func (c *Conn) handleCryptoFrame(now time.Time, space numberSpace, offset uint64, data []byte) {
	sp := c.spaces[space]
	sp.cryptoStream.write(offset, data)
	for sp.cryptoStream.readable() > 0 {
		buf := make([]byte, sp.cryptoStream.readable())
		n := sp.cryptoStream.read(buf)
		if err := c.session.ReadHandshake(space, buf[:n]); err != nil {
			c.closeTransport(now, newError(errProtocolViolation, err.Error()))
			return
		}
	}
	c.driveHandshake(now)
}

// handleStreamFrame applies a received STREAM frame to its stream's
// receive-side reassembler, enforcing flow control (§4.4, §4.3) before
// buffering.
func (c *Conn) handleStreamFrame(now time.Time, id StreamID, offset uint64, data []byte, fin bool) error {
	if id.isWriteOnly(id.initiator()) && id.isLocal(c.side) {
		return newError(errStreamState, "STREAM frame for a send-only local stream")
	}
	var s *stream
	if id.isLocal(c.side) {
		s = c.streams.get(id)
		if s == nil {
			return newError(errStreamState, "STREAM frame for unknown local stream")
		}
	} else {
		var err error
		s, err = c.streams.getOrCreateRemote(id, c.config.streamReceiveWindow())
		if err != nil {
			return err
		}
	}
	end := offset + uint64(len(data))
	if s.recv.finalSize >= 0 && end > uint64(s.recv.finalSize) {
		return newError(errFinalSize, "STREAM data extends past final size")
	}
	if end > s.recv.maxData {
		return newError(errFlowControl, "STREAM data exceeds stream flow control credit")
	}
	if end > c.streams.localMaxData {
		return newError(errFlowControl, "STREAM data exceeds connection flow control credit")
	}
	s.recv.asm.write(offset, data)
	if fin {
		s.recv.finalSize = int64(end)
		if s.recv.state == streamRecvRecv {
			s.recv.state = streamRecvSizeKnown
		}
	}
	c.streams.dataRecvd += uint64(len(data))
	c.extendConnFlowControl()
	if s.recv.asm.readable() > 0 || (fin && s.recv.state == streamRecvSizeKnown) {
		if !c.streams.readable[id] {
			c.streams.readable[id] = true
			c.addEvent(ConnectionEvent{Kind: EventStreamReadable, Stream: id})
		}
	}
	return nil
}

func (c *Conn) handleResetStreamFrame(now time.Time, id StreamID, code uint64, finalSize uint64) {
	s := c.streams.get(id)
	if s == nil {
		var err error
		s, err = c.streams.getOrCreateRemote(id, c.config.streamReceiveWindow())
		if err != nil {
			return
		}
	}
	if s.recv.state == streamRecvResetRecvd || s.recv.state == streamRecvResetRead {
		return
	}
	s.recv.state = streamRecvResetRecvd
	s.recv.finalSize = int64(finalSize)
	s.recv.resetCode = code
	c.addEvent(ConnectionEvent{Kind: EventStreamReset, Stream: id, ErrorCode: code})
}

func (c *Conn) handleStopSendingFrame(now time.Time, id StreamID, code uint64) {
	s := c.streams.get(id)
	if s == nil {
		return
	}
	s.send.stopCode = &code
	c.addEvent(ConnectionEvent{Kind: EventStreamStopped, Stream: id, ErrorCode: code})
}

// handleVersionNegotiation processes a received Version Negotiation
// datagram (client only): if it lists no version we support, the
// connection fails (§7); otherwise it is up to the host to restart with a
// new Conn at a chosen shared version (not modeled here).
func (c *Conn) handleVersionNegotiation(buf []byte) {
	if c.side != clientSide || c.state != stateHandshake {
		return
	}
	versions, ok := parseVersionNegotiation(buf)
	if !ok {
		return
	}
	if !anySupported(versions) {
		c.addEvent(ConnectionEvent{Kind: EventConnectionLost, Err: &ConnectionError{
			TransportErr: &TransportError{Reason: "no compatible version"},
		}})
	}
}

// handleRetry processes a server Retry packet (§4.11): the client must
// restart its Initial keys using the Retry's Source Connection ID and
// resend Initial data including the enclosed token.
func (c *Conn) handleRetry(now time.Time, buf []byte, h parsedLongHeader) {
	if c.side != clientSide || c.state != stateHandshake || c.receivedRetry {
		return
	}
	c.receivedRetry = true
	c.retryToken = append([]byte(nil), h.token...)
	clientSecret, serverSecret := initialSecrets(h.srcConnID)
	wk, err := deriveKeys(suiteAES128GCM, clientSecret)
	if err != nil {
		return
	}
	rk, err := deriveKeys(suiteAES128GCM, serverSecret)
	if err != nil {
		return
	}
	c.crypto[initialSpace] = cryptoSpace{suite: suiteAES128GCM, read: rk, write: wk}
	c.ids.remote[0] = remoteConnID{connID: connID{seq: -1, cid: cloneBytes(h.srcConnID)}}
	sp := c.spaces[initialSpace]
	for pn, p := range sp.sent {
		mergeRetransmits(&sp.pending, p.retransmits)
		delete(sp.sent, pn)
	}
	c.loss.inFlight = inFlight{}
}

// onHandshakeConfirmed implements the transition of §4.11: the handshake
// is confirmed on the client when it processes HANDSHAKE_DONE, and on the
// server as soon as the handshake completes (it sends HANDSHAKE_DONE
// itself). Once confirmed, Handshake-space keys are discarded and
// lossDetectionDeadline starts adding the peer's max_ack_delay to the PTO.
func (c *Conn) onHandshakeConfirmed(now time.Time) {
	if c.handshakeConfirmed {
		return
	}
	c.handshakeConfirmed = true
	c.discardKeys(now, handshakeSpace)
	c.addEvent(ConnectionEvent{Kind: EventHandshakeConfirmed})
}

// driveHandshake pumps TLS output into the appropriate CRYPTO stream and
// installs new key levels as the Session produces them, and is called
// after feeding it any new handshake bytes.
func (c *Conn) driveHandshake(now time.Time) {
	for {
		level, data, ok := c.session.WriteHandshake()
		if !ok {
			break
		}
		sp := c.spaces[level]
		sp.pending.cryptoFrags = append(sp.pending.cryptoFrags, rangeOff{start: sp.cryptoOffset, end: sp.cryptoOffset + uint64(len(data))})
		sp.cryptoOut = append(sp.cryptoOut, data...)
		sp.cryptoOffset += uint64(len(data))
	}
	// The handshake key schedule is available once the Initial exchange has
	// produced output on this Conn: a real TLS stack derives the Handshake
	// traffic secrets alongside the Initial ones, well before the handshake
	// itself completes.
	if !c.crypto[handshakeSpace].write.isSet() && c.spaces[initialSpace].cryptoOffset > 0 {
		c.installHandshakeSpaceKeys()
	}
	if c.state == stateHandshake && c.session.HandshakeComplete() {
		c.state = stateEstablished
		if tp, ok := c.session.PeerTransportParameters(); ok {
			c.setRemoteTransportParameters(tp, TransportParameters{}, false)
		}
		c.installHandshakeDataKeys()
		if c.side == serverSide {
			c.onHandshakeConfirmed(now)
			c.spaces[dataSpace].pending.ping = false
			c.queueHandshakeDone()
		}
		c.discardKeys(now, initialSpace)
	}
}

// installHandshakeSpaceKeys derives the Handshake-level traffic secrets
// via Session.ExportSecret and installs them as the Handshake space's
// read/write keys.
func (c *Conn) installHandshakeSpaceKeys() {
	suite := c.session.NegotiatedSuite()
	clientSecret := c.session.ExportSecret(exporterLabelClientHandshake, nil, exportedSecretLen)
	serverSecret := c.session.ExportSecret(exporterLabelServerHandshake, nil, exportedSecretLen)
	var readSecret, writeSecret []byte
	if c.side == clientSide {
		readSecret, writeSecret = serverSecret, clientSecret
	} else {
		readSecret, writeSecret = clientSecret, serverSecret
	}
	rk, err := deriveKeys(suite, readSecret)
	if err != nil {
		return
	}
	wk, err := deriveKeys(suite, writeSecret)
	if err != nil {
		return
	}
	c.crypto[handshakeSpace] = cryptoSpace{suite: suite, read: rk, write: wk}
}

// installHandshakeDataKeys derives the 1-RTT traffic secrets from the
// completed handshake via the exporter capability and installs them as
// the Data space's read/write keys (RFC 9001, Section 5.1's application
// traffic secrets, reached here through Session.ExportSecret rather than
// a direct TLS key-schedule hook, matching this package's Session
// abstraction).
func (c *Conn) installHandshakeDataKeys() {
	suite := c.session.NegotiatedSuite()
	clientSecret := c.session.ExportSecret(exporterLabelClientToServer, nil, exportedSecretLen)
	serverSecret := c.session.ExportSecret(exporterLabelServerToClient, nil, exportedSecretLen)
	var readSecret, writeSecret []byte
	if c.side == clientSide {
		readSecret, writeSecret = serverSecret, clientSecret
	} else {
		readSecret, writeSecret = clientSecret, serverSecret
	}
	c.installDataKeys(readSecret, writeSecret, suite)
}

// queueHandshakeDone arranges for a HANDSHAKE_DONE frame to be sent.
func (c *Conn) queueHandshakeDone() {
	c.sendHandshakeDone = true
}
