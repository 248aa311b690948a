// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// streamsState is the Streams table named in the design notes (§9):
// a single owner (Conn) holds this table keyed by StreamID, with no
// back-pointer from stream to Conn (§9 design note 1).
type streamsState struct {
	side connSide

	byID map[StreamID]*stream

	// Stream-count limits, expressed as the number of streams (not the
	// maximum stream ID): see the "maximum stream ID = limit - 1"
	// convention note in §9.
	localLimitBidi  uint64 // how many streams we may open, per the peer's MAX_STREAMS
	localLimitUni   uint64
	localOpenedBidi uint64 // how many we've opened so far
	localOpenedUni  uint64

	remoteLimitBidi  uint64 // our credit to the peer, advertised via MAX_STREAMS
	remoteLimitUni   uint64
	remoteOpenedBidi uint64 // highest-index peer-initiated stream seen + 1
	remoteOpenedUni  uint64

	maxStreamsBidiPending bool
	maxStreamsUniPending  bool

	resetPending        map[StreamID]bool   // RESET_STREAM queued by Stream.Reset, not yet sent
	stopSendingPending  map[StreamID]uint64 // STOP_SENDING queued by Stream.StopSending, code value
	maxStreamDataExtend map[StreamID]bool   // local recv.maxData grew, MAX_STREAM_DATA due

	acceptQueueBidi []StreamID
	acceptQueueUni  []StreamID

	// Connection-level flow control (§4.4).
	maxData      uint64 // peer's credit to us (their MAX_DATA)
	localMaxData uint64 // our credit to the peer
	dataSent     uint64 // total bytes queued across all streams
	dataRecvd    uint64 // total bytes received across all streams
	unackedData  uint64 // bytes sent but not yet acknowledged
	sendWindow   uint64
	maxDataPending bool

	streamDataBlockedPending map[StreamID]bool // MAX_STREAM_DATA to send
	blockedOnConnData        map[StreamID]bool // Write returned ErrStreamBlocked on conn budget
	blockedOnStreamData      map[StreamID]bool // Write returned ErrStreamBlocked on stream budget

	readable map[StreamID]bool
	writable map[StreamID]bool
	finished map[StreamID]bool
	opened   []StreamID // StreamOpened events pending delivery
}

func newStreamsState(side connSide, cfg *Config) *streamsState {
	return &streamsState{
		side:                     side,
		byID:                     make(map[StreamID]*stream),
		localLimitBidi:           cfg.streamWindowBidi(),
		localLimitUni:            cfg.streamWindowUni(),
		remoteLimitBidi:          cfg.streamWindowBidi(),
		remoteLimitUni:           cfg.streamWindowUni(),
		localMaxData:             cfg.receiveWindow(),
		sendWindow:               cfg.sendWindow(),
		streamDataBlockedPending: make(map[StreamID]bool),
		blockedOnConnData:        make(map[StreamID]bool),
		blockedOnStreamData:      make(map[StreamID]bool),
		resetPending:             make(map[StreamID]bool),
		stopSendingPending:       make(map[StreamID]uint64),
		maxStreamDataExtend:      make(map[StreamID]bool),
		readable:                 make(map[StreamID]bool),
		writable:                 make(map[StreamID]bool),
		finished:                 make(map[StreamID]bool),
	}
}

// open allocates a new locally-initiated stream, returning nil if the
// peer's stream-count limit for this directionality has been reached.
func (st *streamsState) open(dir Direction, streamRecvWindow uint64) *StreamID {
	var count, limit *uint64
	if dir == StreamBidi {
		count, limit = &st.localOpenedBidi, &st.localLimitBidi
	} else {
		count, limit = &st.localOpenedUni, &st.localLimitUni
	}
	if *count >= *limit {
		return nil
	}
	id := newStreamID(st.side, dir, int64(*count))
	*count++
	s := newLocalStream(id, st.remoteStreamWindowFor(dir))
	if dir == StreamUni {
		s.recv.maxData = 0
	} else {
		s.recv.maxData = streamRecvWindow
	}
	st.byID[id] = s
	return &id
}

func (st *streamsState) remoteStreamWindowFor(Direction) uint64 { return st.sendWindow }

// accept returns and removes the oldest peer-initiated stream of the given
// directionality that has not yet been returned by accept, or nil.
func (st *streamsState) accept(dir Direction) *StreamID {
	q := &st.acceptQueueBidi
	if dir == StreamUni {
		q = &st.acceptQueueUni
	}
	if len(*q) == 0 {
		return nil
	}
	id := (*q)[0]
	*q = (*q)[1:]
	return &id
}

// getOrCreateRemote returns the stream for a peer-initiated id, creating
// it (and any lower-indexed streams of the same directionality, per
// RFC 9000 Section 2.1) if this is the first reference. Returns an error
// if doing so would exceed our advertised stream-count limit.
func (st *streamsState) getOrCreateRemote(id StreamID, streamRecvWindow uint64) (*stream, error) {
	if s, ok := st.byID[id]; ok {
		return s, nil
	}
	index := uint64(id.index())
	var opened, limit *uint64
	if id.direction() == StreamBidi {
		opened, limit = &st.remoteOpenedBidi, &st.remoteLimitBidi
	} else {
		opened, limit = &st.remoteOpenedUni, &st.remoteLimitUni
	}
	if index >= *limit {
		return nil, newError(errStreamLimit, "stream limit exceeded")
	}
	for i := *opened; i <= index; i++ {
		nid := newStreamID(id.initiator(), id.direction(), int64(i))
		s := newRemoteStream(nid, streamRecvWindow)
		st.byID[nid] = s
		if id.direction() == StreamBidi {
			st.acceptQueueBidi = append(st.acceptQueueBidi, nid)
		} else {
			st.acceptQueueUni = append(st.acceptQueueUni, nid)
		}
		st.opened = append(st.opened, nid)
	}
	*opened = index + 1
	return st.byID[id], nil
}

func (st *streamsState) get(id StreamID) *stream { return st.byID[id] }

// connSendBudget is conn_budget = min(max_data - data_sent, send_window -
// unacked_data) (§4.4).
func (st *streamsState) connSendBudget() uint64 {
	a := uint64(0)
	if st.maxData > st.dataSent {
		a = st.maxData - st.dataSent
	}
	b := uint64(0)
	if st.sendWindow > st.unackedData {
		b = st.sendWindow - st.unackedData
	}
	if a < b {
		return a
	}
	return b
}

// wakeBlockedOnConnData marks every stream recorded as connection-budget
// blocked as writable again, once the budget widens (§4.4).
func (st *streamsState) wakeBlockedOnConnData() {
	for id := range st.blockedOnConnData {
		st.writable[id] = true
	}
	st.blockedOnConnData = make(map[StreamID]bool)
}

func (st *streamsState) wakeBlockedOnStreamData(id StreamID) {
	if st.blockedOnStreamData[id] {
		delete(st.blockedOnStreamData, id)
		st.writable[id] = true
	}
}
