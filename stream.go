// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// streamSendState is the per-stream send-side state machine (§3):
//
//	Ready -> DataSent -> DataRecvd (terminal)
//	Ready -> ResetSent -> ResetRecvd (terminal)
//
// A transition into ResetSent may occur from any non-terminal state;
// from ResetSent only the reset's acknowledgement advances to ResetRecvd.
type streamSendState int

const (
	streamSendReady streamSendState = iota
	streamSendDataSent
	streamSendDataRecvd
	streamSendResetSent
	streamSendResetRecvd
)

// streamRecvState is the per-stream receive-side state machine (§3):
//
//	Recv -> SizeKnown -> DataRecvd -> DataRead (terminal)
//	(any non-terminal) -> ResetRecvd -> ResetRead (terminal)
type streamRecvState int

const (
	streamRecvRecv streamRecvState = iota
	streamRecvSizeKnown
	streamRecvDataRecvd
	streamRecvDataRead
	streamRecvResetRecvd
	streamRecvResetRead
)

// sendStream is the send-side state of one stream.
type sendStream struct {
	state      streamSendState
	offset     uint64 // bytes written so far (== next byte's offset)
	maxData    uint64 // peer-advertised MAX_STREAM_DATA credit
	inFlight   uint64 // bytes currently unacknowledged, counted in conn.unackedData
	finalSize  int64  // -1 until a FIN is queued
	finSent    bool
	resetCode  uint64
	stopCode   *uint64 // set if the peer sent STOP_SENDING

	buf    []byte // all data ever written that is not yet fully acked, buf[0] is byte `base`
	base   uint64 // stream offset of buf[0]
	sentTo uint64 // offset of the first byte not yet sent at least once

	acked offsetSet // byte ranges acknowledged
	lost  offsetSet // byte ranges queued for retransmission

	blocked bool // Write previously returned ErrStreamBlocked / was flow-blocked
}

// recvStream is the receive-side state of one stream.
type recvStream struct {
	state     streamRecvState
	asm       reassembler
	finalSize int64 // -1 until a FIN is observed
	maxData   uint64 // our credit extended to the peer, local_max_data for this stream
	resetCode uint64
}

// stream couples the send and receive halves addressed by one StreamID.
// A unidirectional stream only has the half its direction implies live;
// the other is left in its terminal state (DataRead for a receive half,
// DataRecvd for a send half) and never used.
type stream struct {
	id   StreamID
	send sendStream
	recv recvStream
}

func newLocalStream(id StreamID, sendWindow uint64) *stream {
	s := &stream{id: id}
	s.send.finalSize = -1
	s.send.maxData = sendWindow
	s.recv.finalSize = -1
	if id.isWriteOnly(id.initiator()) {
		s.recv.state = streamRecvDataRead // never receives
	}
	return s
}

func newRemoteStream(id StreamID, recvWindow uint64) *stream {
	s := &stream{id: id}
	s.send.finalSize = -1
	s.recv.finalSize = -1
	s.recv.maxData = recvWindow
	if id.direction() == StreamUni {
		s.send.state = streamSendDataRecvd // never sends
	}
	return s
}

// canWrite reports whether the local side may still queue data.
func (s *stream) canWrite() bool {
	switch s.send.state {
	case streamSendReady, streamSendDataSent:
		return true
	}
	return false
}

// sendBudget returns the number of additional bytes this stream's own
// flow-control window allows queuing.
func (s *stream) sendBudget() uint64 {
	if s.send.offset >= s.send.maxData {
		return 0
	}
	return s.send.maxData - s.send.offset
}

// queue appends data to the send buffer and advances the write offset by
// len(data) bytes (the caller has already clamped data to available budget).
func (s *stream) queue(data []byte) {
	if len(s.send.buf) == 0 {
		s.base_reset(s.send.offset)
	}
	s.send.buf = append(s.send.buf, data...)
	s.send.offset += uint64(len(data))
	if s.send.state == streamSendReady {
		s.send.state = streamSendDataSent
	}
}

func (s *stream) base_reset(off uint64) { s.send.base = off; s.send.sentTo = off }

// finish marks the final size of the stream at the current write offset
// and arranges for a FIN to be sent with the next STREAM frame.
func (s *stream) finish() {
	if s.send.finalSize < 0 {
		s.send.finalSize = int64(s.send.offset)
	}
}

// resetSend transitions the send side to ResetSent, discarding any
// buffered-but-unacked data (it will never be retransmitted).
func (s *stream) resetSend(code uint64) {
	if s.send.state == streamSendResetSent || s.send.state == streamSendResetRecvd {
		return
	}
	s.send.state = streamSendResetSent
	s.send.resetCode = code
	s.send.buf = nil
	s.send.lost = nil
}

// onSendAcked processes acknowledgement of a previously sent STREAM
// fragment [off,off+n).
func (s *stream) onSendAcked(off uint64, n int) {
	if n > 0 {
		s.send.acked.add(off, off+uint64(n))
	}
	s.trimAcked()
	if s.allDataAcked() && s.send.state == streamSendDataSent {
		s.send.state = streamSendDataRecvd
	}
}

func (s *stream) allDataAcked() bool {
	if s.send.finalSize < 0 {
		return false
	}
	if s.send.finalSize == 0 {
		return true
	}
	return s.send.acked.contiguousFrom(0) >= uint64(s.send.finalSize)
}

// trimAcked discards fully-acknowledged bytes from the front of buf.
func (s *stream) trimAcked() {
	contig := s.send.acked.contiguousFrom(s.send.base)
	if contig <= s.send.base {
		return
	}
	n := contig - s.send.base
	if n > uint64(len(s.send.buf)) {
		n = uint64(len(s.send.buf))
	}
	s.send.buf = s.send.buf[n:]
	s.send.base += n
}

// onSendLost re-queues [off,off+n) (and possibly the FIN) for
// retransmission.
func (s *stream) onSendLost(off uint64, n int, finLost bool) {
	if n > 0 {
		s.send.lost.add(off, off+uint64(n))
	}
	if finLost {
		s.send.finSent = false
	}
}

// resetAcked transitions ResetSent -> ResetRecvd.
func (s *stream) resetAcked() {
	if s.send.state == streamSendResetSent {
		s.send.state = streamSendResetRecvd
	}
}
