// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "fmt"

// Stream is the application handle for one QUIC stream (§4.3, §4.4). A
// Stream is only ever accessed through the Conn that created it; there is
// no concurrency control here, matching Conn's single-threaded contract.
type Stream struct {
	id   StreamID
	conn *Conn
}

// ID reports the stream's identifier, stable for its lifetime.
func (s *Stream) ID() StreamID { return s.id }

// Direction reports whether the stream carries data in both directions or
// only from its initiator.
func (s *Stream) Direction() Direction { return s.id.direction() }

// OpenStream opens a new locally-initiated stream, returning ok=false if
// doing so would exceed the peer's advertised stream-count limit; the
// host should retry once EventStreamAvailable is delivered.
func (c *Conn) OpenStream(dir Direction) (s *Stream, ok bool) {
	id := c.streams.open(dir, c.config.streamReceiveWindow())
	if id == nil {
		return nil, false
	}
	return &Stream{id: *id, conn: c}, true
}

// AcceptStream returns the oldest peer-initiated stream of the given
// directionality not yet returned by a previous AcceptStream call, or
// ok=false if none is queued.
func (c *Conn) AcceptStream(dir Direction) (s *Stream, ok bool) {
	id := c.streams.accept(dir)
	if id == nil {
		return nil, false
	}
	return &Stream{id: *id, conn: c}, true
}

// Write queues up to len(data) bytes for transmission, returning the
// number actually accepted. It returns ErrStreamBlocked once the
// stream's or the connection's flow-control budget is exhausted; an
// EventStreamWritable event follows once more budget is available.
func (s *Stream) Write(data []byte) (int, error) {
	st := s.conn.streams.get(s.id)
	if st == nil {
		return 0, ErrUnknownStream
	}
	if st.send.stopCode != nil {
		return 0, &StreamStoppedError{Code: *st.send.stopCode}
	}
	if !st.canWrite() {
		return 0, fmt.Errorf("quic: stream closed for writing")
	}
	if len(data) == 0 {
		return 0, nil
	}
	budget := st.sendBudget()
	if budget == 0 {
		s.conn.streams.blockedOnStreamData[s.id] = true
		return 0, ErrStreamBlocked
	}
	connBudget := s.conn.streams.connSendBudget()
	if connBudget == 0 {
		s.conn.streams.blockedOnConnData[s.id] = true
		return 0, ErrStreamBlocked
	}
	n := uint64(len(data))
	if n > budget {
		n = budget
	}
	if n > connBudget {
		n = connBudget
	}
	st.queue(data[:n])
	s.conn.streams.dataSent += n
	s.conn.streams.unackedData += n
	return int(n), nil
}

// Finish marks the current write offset as the stream's final size,
// arranging for a FIN to accompany the last queued STREAM frame.
func (s *Stream) Finish() error {
	st := s.conn.streams.get(s.id)
	if st == nil {
		return ErrUnknownStream
	}
	st.finish()
	return nil
}

// Reset abandons the send side immediately, discarding any buffered but
// unacknowledged data (§4.3): it will never be retransmitted.
func (s *Stream) Reset(code uint64) error {
	st := s.conn.streams.get(s.id)
	if st == nil {
		return ErrUnknownStream
	}
	st.resetSend(code)
	s.conn.streams.resetPending[s.id] = true
	return nil
}

// StopSending asks the peer to abandon sending further data on this
// stream (§4.3); already-buffered data the peer sent before receiving it
// may still arrive.
func (s *Stream) StopSending(code uint64) error {
	if s.conn.streams.get(s.id) == nil {
		return ErrUnknownStream
	}
	s.conn.streams.stopSendingPending[s.id] = code
	return nil
}

// Read copies received stream data into buf in order, returning
// ErrStreamFinished once all data up to the final size has been
// delivered, or a *StreamResetError if the peer reset the stream.
func (s *Stream) Read(buf []byte) (int, error) {
	st := s.conn.streams.get(s.id)
	if st == nil {
		return 0, ErrUnknownStream
	}
	if st.recv.state == streamRecvResetRecvd {
		st.recv.state = streamRecvResetRead
		return 0, &StreamResetError{Code: st.recv.resetCode}
	}
	n := st.recv.asm.read(buf)
	if n == 0 {
		if st.recv.finalSize >= 0 && uint64(st.recv.finalSize) == st.recv.asm.readOffset {
			st.recv.state = streamRecvDataRead
			return 0, ErrStreamFinished
		}
		delete(s.conn.streams.readable, s.id)
		return 0, nil
	}
	s.conn.extendStreamFlowControl(st)
	if st.recv.asm.readable() == 0 {
		delete(s.conn.streams.readable, s.id)
	}
	return n, nil
}

// ReadUnordered returns one received chunk of stream data along with its
// stream offset, bypassing the ordering Read enforces: a chunk is
// delivered as soon as it arrives, even if earlier bytes are still
// missing. It reports ErrStreamFinished once every byte up to the final
// size has been delivered this way, or a *StreamResetError if the peer
// reset the stream.
func (s *Stream) ReadUnordered() (offset uint64, data []byte, err error) {
	st := s.conn.streams.get(s.id)
	if st == nil {
		return 0, nil, ErrUnknownStream
	}
	if st.recv.state == streamRecvResetRecvd {
		st.recv.state = streamRecvResetRead
		return 0, nil, &StreamResetError{Code: st.recv.resetCode}
	}
	offset, data, ok := st.recv.asm.readUnordered()
	if !ok {
		if st.recv.finalSize >= 0 && !st.recv.asm.hasUnread() && st.recv.asm.readOffset >= uint64(st.recv.finalSize) {
			st.recv.state = streamRecvDataRead
			return 0, nil, ErrStreamFinished
		}
		delete(s.conn.streams.readable, s.id)
		return 0, nil, nil
	}
	s.conn.extendStreamFlowControl(st)
	if !st.recv.asm.hasUnread() {
		delete(s.conn.streams.readable, s.id)
	}
	return offset, data, nil
}

// extendStreamFlowControl widens a stream's receive credit once the
// application has consumed roughly half of it, queuing a
// MAX_STREAM_DATA frame to advertise the new limit (§4.4).
func (c *Conn) extendStreamFlowControl(st *stream) {
	if st.id.isWriteOnly(st.id.initiator()) {
		return
	}
	window := c.config.streamReceiveWindow()
	consumed := st.recv.asm.readOffset
	if st.recv.maxData-consumed < window/2 {
		st.recv.maxData = consumed + window
		c.streams.maxStreamDataExtend[st.id] = true
	}
}

// extendConnFlowControl widens the connection-level receive credit once
// roughly half of it has been consumed across every stream (§4.4).
func (c *Conn) extendConnFlowControl() {
	window := c.config.receiveWindow()
	if c.streams.localMaxData-c.streams.dataRecvd < window/2 {
		c.streams.localMaxData += window
		c.streams.maxDataPending = true
	}
}
