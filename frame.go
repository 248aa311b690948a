// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// This file implements the wire encoding and decoding of every QUIC frame
// (RFC 9000, Section 19). Encoders append to a packetWriter and record
// the bookkeeping conn_send.go and conn_loss.go need to react to the
// frame's eventual fate; decoders are free functions called from the
// receive-side frame loop in conn_recv.go.

// appendPing appends a PING frame (§4.8: used to elicit an ACK, e.g. for
// a PTO probe with nothing else to send).
func (w *packetWriter) appendPing() {
	w.buf = append(w.buf, byte(frameTypePing))
	w.sent.ackEliciting = true
}

// appendPadding appends n PADDING frames (each a single zero byte).
func (w *packetWriter) appendPadding(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, byte(frameTypePadding))
	}
}

// appendAckFrame appends an ACK (or, if ecn is non-nil, ACK_ECN) frame
// encoding ranges in descending order per RFC 9000, Section 19.3.
func (w *packetWriter) appendAckFrame(ranges rangeSet, ackDelay uint64, ackDelayExponent uint8, ecn *ecnCounts) {
	if ranges.isEmpty() {
		return
	}
	ft := frameTypeAck
	if ecn != nil {
		ft = frameTypeAckECN
	}
	w.buf = append(w.buf, byte(ft))
	first := true
	var prevStart packetNumber
	n := ranges.numRanges()
	ranges.rangesDescending(func(start, end packetNumber) bool {
		largest := end - 1
		size := end - start - 1
		if first {
			w.buf = appendVarint(w.buf, uint64(largest))
			w.buf = appendVarint(w.buf, ackDelay>>ackDelayExponent)
			w.buf = appendVarint(w.buf, uint64(n-1))
			w.buf = appendVarint(w.buf, uint64(size))
			first = false
		} else {
			gap := prevStart - end - 1
			w.buf = appendVarint(w.buf, uint64(gap))
			w.buf = appendVarint(w.buf, uint64(size))
		}
		prevStart = start
		return true
	})
	if ecn != nil {
		w.buf = appendVarint(w.buf, ecn.ect0)
		w.buf = appendVarint(w.buf, ecn.ect1)
		w.buf = appendVarint(w.buf, ecn.ce)
	}
}

// ackFrame is the decoded form of an ACK or ACK_ECN frame.
type ackFrame struct {
	largestAcked packetNumber
	ackDelay     uint64 // raw encoded value, still needs <<ackDelayExponent
	ranges       rangeSet
	ecn          *ecnCounts
}

func parseAckFrame(b []byte, ft frameType) (f ackFrame, n int, ok bool) {
	orig := len(b)
	largest, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	delay, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	count, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	firstRange, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]

	f.largestAcked = packetNumber(largest)
	f.ackDelay = delay
	end := packetNumber(largest) + 1
	start := end - packetNumber(firstRange) - 1
	f.ranges.add(start, end)

	for i := uint64(0); i < count; i++ {
		gap, m := consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
		rlen, m := consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
		end = start - packetNumber(gap) - 1
		start = end - packetNumber(rlen) - 1
		f.ranges.add(start, end)
	}

	if ft == frameTypeAckECN {
		var ect0, ect1, ce uint64
		ect0, m = consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
		ect1, m = consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
		ce, m = consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
		f.ecn = &ecnCounts{ect0: ect0, ect1: ect1, ce: ce}
	}
	return f, orig - len(b), true
}

// appendCryptoFrame appends a CRYPTO frame.
func (w *packetWriter) appendCryptoFrame(offset uint64, data []byte, space numberSpace) {
	w.buf = append(w.buf, byte(frameTypeCrypto))
	w.buf = appendVarint(w.buf, offset)
	w.buf = appendBytes(w.buf, data)
	w.sent.ackEliciting = true
	w.sent.isCrypto = true
	w.sent.retransmits.cryptoFrags = append(w.sent.retransmits.cryptoFrags, rangeOff{start: offset, end: offset + uint64(len(data))})
}

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func parseCryptoFrame(b []byte) (f cryptoFrame, n int, ok bool) {
	orig := len(b)
	off, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	data, m := consumeBytes(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	return cryptoFrame{offset: off, data: data}, orig - len(b), true
}

// appendStreamFrame appends a STREAM frame, optionally with FIN, always
// encoding the length field (LEN set), so later frames can follow it in
// the same packet.
func (w *packetWriter) appendStreamFrame(id StreamID, offset uint64, data []byte, fin bool) {
	t := streamFrameType(offset != 0, true, fin)
	w.buf = append(w.buf, t)
	w.buf = appendVarint(w.buf, uint64(id))
	if offset != 0 {
		w.buf = appendVarint(w.buf, offset)
	}
	w.buf = appendBytes(w.buf, data)
	w.sent.ackEliciting = true
	w.sent.retransmits.streamFrags = append(w.sent.retransmits.streamFrags, streamFrag{
		id: id, offset: offset, size: len(data), fin: fin,
	})
}

type streamFrameWire struct {
	id     StreamID
	offset uint64
	data   []byte
	fin    bool
}

func parseStreamFrame(b []byte, t byte) (f streamFrameWire, n int, ok bool) {
	orig := len(b)
	off, length, fin := streamFrameBits(t)
	id, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	var offset uint64
	if off {
		offset, m = consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
	}
	var data []byte
	if length {
		data, m = consumeBytes(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
	} else {
		data = b
		b = nil
	}
	return streamFrameWire{id: StreamID(id), offset: offset, data: data, fin: fin}, orig - len(b), true
}

// appendResetStreamFrame appends a RESET_STREAM frame.
func (w *packetWriter) appendResetStreamFrame(id StreamID, code uint64, finalSize uint64) {
	w.buf = append(w.buf, byte(frameTypeResetStream))
	w.buf = appendVarint(w.buf, uint64(id))
	w.buf = appendVarint(w.buf, code)
	w.buf = appendVarint(w.buf, finalSize)
	w.sent.ackEliciting = true
	w.sent.retransmits.resetStreams = append(w.sent.retransmits.resetStreams, id)
}

type resetStreamFrame struct {
	id        StreamID
	code      uint64
	finalSize uint64
}

func parseResetStreamFrame(b []byte) (f resetStreamFrame, n int, ok bool) {
	orig := len(b)
	id, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	code, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	size, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	return resetStreamFrame{id: StreamID(id), code: code, finalSize: size}, orig - len(b), true
}

// appendStopSendingFrame appends a STOP_SENDING frame.
func (w *packetWriter) appendStopSendingFrame(id StreamID, code uint64) {
	w.buf = append(w.buf, byte(frameTypeStopSending))
	w.buf = appendVarint(w.buf, uint64(id))
	w.buf = appendVarint(w.buf, code)
	w.sent.ackEliciting = true
	w.sent.retransmits.stopSendings = append(w.sent.retransmits.stopSendings, id)
}

type stopSendingFrame struct {
	id   StreamID
	code uint64
}

func parseStopSendingFrame(b []byte) (f stopSendingFrame, n int, ok bool) {
	orig := len(b)
	id, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	code, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	return stopSendingFrame{id: StreamID(id), code: code}, orig - len(b), true
}

// appendMaxDataFrame appends a MAX_DATA frame.
func (w *packetWriter) appendMaxDataFrame(max uint64) {
	w.buf = append(w.buf, byte(frameTypeMaxData))
	w.buf = appendVarint(w.buf, max)
	w.sent.ackEliciting = true
	w.sent.retransmits.maxData = true
}

func parseMaxDataFrame(b []byte) (max uint64, n int, ok bool) {
	v, m := consumeVarint(b)
	if m < 0 {
		return 0, 0, false
	}
	return v, m, true
}

// appendMaxStreamDataFrame appends a MAX_STREAM_DATA frame.
func (w *packetWriter) appendMaxStreamDataFrame(id StreamID, max uint64) {
	w.buf = append(w.buf, byte(frameTypeMaxStreamData))
	w.buf = appendVarint(w.buf, uint64(id))
	w.buf = appendVarint(w.buf, max)
	w.sent.ackEliciting = true
	if w.sent.retransmits.maxStreamData == nil {
		w.sent.retransmits.maxStreamData = make(map[StreamID]bool)
	}
	w.sent.retransmits.maxStreamData[id] = true
}

func parseMaxStreamDataFrame(b []byte) (id StreamID, max uint64, n int, ok bool) {
	orig := len(b)
	v, m := consumeVarint(b)
	if m < 0 {
		return 0, 0, 0, false
	}
	b = b[m:]
	max, m = consumeVarint(b)
	if m < 0 {
		return 0, 0, 0, false
	}
	b = b[m:]
	return StreamID(v), max, orig - len(b), true
}

// appendMaxStreamsFrame appends a MAX_STREAMS frame for the given
// directionality.
func (w *packetWriter) appendMaxStreamsFrame(dir Direction, max uint64) {
	if dir == StreamBidi {
		w.buf = append(w.buf, byte(frameTypeMaxStreamsBidi))
		w.sent.retransmits.maxStreamsBidi = true
	} else {
		w.buf = append(w.buf, byte(frameTypeMaxStreamsUni))
		w.sent.retransmits.maxStreamsUni = true
	}
	w.buf = appendVarint(w.buf, max)
	w.sent.ackEliciting = true
}

func parseMaxStreamsFrame(b []byte) (max uint64, n int, ok bool) {
	v, m := consumeVarint(b)
	if m < 0 {
		return 0, 0, false
	}
	return v, m, true
}

// appendDataBlockedFrame / appendStreamDataBlockedFrame / appendStreamsBlockedFrame
// are informational frames (§19.13-19.14): not individually retransmitted
// on loss (the condition they describe will simply recur).
func (w *packetWriter) appendDataBlockedFrame(limit uint64) {
	w.buf = append(w.buf, byte(frameTypeDataBlocked))
	w.buf = appendVarint(w.buf, limit)
	w.sent.ackEliciting = true
}

func (w *packetWriter) appendStreamDataBlockedFrame(id StreamID, limit uint64) {
	w.buf = append(w.buf, byte(frameTypeStreamDataBlocked))
	w.buf = appendVarint(w.buf, uint64(id))
	w.buf = appendVarint(w.buf, limit)
	w.sent.ackEliciting = true
}

func (w *packetWriter) appendStreamsBlockedFrame(dir Direction, limit uint64) {
	if dir == StreamBidi {
		w.buf = append(w.buf, byte(frameTypeStreamsBlockedBidi))
	} else {
		w.buf = append(w.buf, byte(frameTypeStreamsBlockedUni))
	}
	w.buf = appendVarint(w.buf, limit)
	w.sent.ackEliciting = true
}

// appendNewConnectionIDFrame appends a NEW_CONNECTION_ID frame.
func (w *packetWriter) appendNewConnectionIDFrame(seq, retirePriorTo int64, cid, resetToken []byte) {
	w.buf = append(w.buf, byte(frameTypeNewConnectionID))
	w.buf = appendVarint(w.buf, uint64(seq))
	w.buf = appendVarint(w.buf, uint64(retirePriorTo))
	w.buf = append(w.buf, byte(len(cid)))
	w.buf = append(w.buf, cid...)
	w.buf = append(w.buf, resetToken...)
	w.sent.ackEliciting = true
	w.sent.retransmits.newConnectionID = append(w.sent.retransmits.newConnectionID, seq)
}

type newConnectionIDFrame struct {
	seq, retirePriorTo int64
	cid, resetToken    []byte
}

func parseNewConnectionIDFrame(b []byte) (f newConnectionIDFrame, n int, ok bool) {
	orig := len(b)
	seq, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	retire, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	if len(b) < 1 {
		return f, 0, false
	}
	l := int(b[0])
	b = b[1:]
	if len(b) < l+resetTokenSize {
		return f, 0, false
	}
	cid := append([]byte(nil), b[:l]...)
	b = b[l:]
	token := append([]byte(nil), b[:resetTokenSize]...)
	b = b[resetTokenSize:]
	return newConnectionIDFrame{seq: int64(seq), retirePriorTo: int64(retire), cid: cid, resetToken: token}, orig - len(b), true
}

// appendRetireConnectionIDFrame appends a RETIRE_CONNECTION_ID frame.
func (w *packetWriter) appendRetireConnectionIDFrame(seq int64) {
	w.buf = append(w.buf, byte(frameTypeRetireConnectionID))
	w.buf = appendVarint(w.buf, uint64(seq))
	w.sent.ackEliciting = true
	w.sent.retransmits.retireConnectionID = append(w.sent.retransmits.retireConnectionID, seq)
}

func parseRetireConnectionIDFrame(b []byte) (seq int64, n int, ok bool) {
	v, m := consumeVarint(b)
	if m < 0 {
		return 0, 0, false
	}
	return int64(v), m, true
}

// appendPathChallengeFrame / appendPathResponseFrame carry an 8-byte
// opaque payload (§4.9 path validation).
func (w *packetWriter) appendPathChallengeFrame(data [8]byte) {
	w.buf = append(w.buf, byte(frameTypePathChallenge))
	w.buf = append(w.buf, data[:]...)
	w.sent.ackEliciting = true
}

func (w *packetWriter) appendPathResponseFrame(data [8]byte) {
	w.buf = append(w.buf, byte(frameTypePathResponse))
	w.buf = append(w.buf, data[:]...)
	w.sent.ackEliciting = true
}

func parsePathData(b []byte) (data [8]byte, n int, ok bool) {
	if len(b) < 8 {
		return data, 0, false
	}
	copy(data[:], b[:8])
	return data, 8, true
}

// appendConnectionCloseFrame appends a CONNECTION_CLOSE frame, transport
// or application per app.
func (w *packetWriter) appendConnectionCloseFrame(app bool, code uint64, triggerFrame frameType, reason string) {
	if app {
		w.buf = append(w.buf, byte(frameTypeConnectionCloseApp))
	} else {
		w.buf = append(w.buf, byte(frameTypeConnectionClose))
	}
	w.buf = appendVarint(w.buf, code)
	if !app {
		w.buf = appendVarint(w.buf, uint64(triggerFrame))
	}
	w.buf = appendBytes(w.buf, []byte(reason))
	// CONNECTION_CLOSE is never retransmitted: the Closing-state send path
	// sends it exactly once. It is not counted ack-eliciting either.
}

type connectionCloseFrame struct {
	app          bool
	code         uint64
	triggerFrame frameType
	reason       string
}

func parseConnectionCloseFrame(b []byte, app bool) (f connectionCloseFrame, n int, ok bool) {
	orig := len(b)
	code, m := consumeVarint(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	var trigger uint64
	if !app {
		trigger, m = consumeVarint(b)
		if m < 0 {
			return f, 0, false
		}
		b = b[m:]
	}
	reason, m := consumeBytes(b)
	if m < 0 {
		return f, 0, false
	}
	b = b[m:]
	return connectionCloseFrame{app: app, code: code, triggerFrame: frameType(trigger), reason: string(reason)}, orig - len(b), true
}

// appendHandshakeDoneFrame appends a HANDSHAKE_DONE frame (server only).
func (w *packetWriter) appendHandshakeDoneFrame() {
	w.buf = append(w.buf, byte(frameTypeHandshakeDone))
	w.sent.ackEliciting = true
}
