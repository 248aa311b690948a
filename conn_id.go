// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"bytes"
	"crypto/rand"
)

// connID is a connection ID and its associated metadata (RFC 9000,
// Section 5.1).
type connID struct {
	cid        []byte
	seq        int64 // -1 for the client's transient Initial destination ID
	retired    bool
	sendNew    bool   // local: needs a NEW_CONNECTION_ID; remote: needs a RETIRE_CONNECTION_ID
	resetToken []byte // local CIDs only: the stateless reset token advertised with this CID
}

type remoteConnID struct {
	connID
	resetToken []byte // 16 bytes, or nil if none was provided
}

// connIDState is a Conn's connection IDs (§4.9): the set we have issued to
// the peer (local) and the set the peer has issued to us (remote), plus
// the bookkeeping path migration needs.
type connIDState struct {
	side connSide

	local  []connID
	remote []remoteConnID

	nextLocalSeq        int64
	retireRemotePriorTo int64
	activeLimit         int64 // peer's active_connection_id_limit, default 2 until known
}

func newConnIDState(side connSide) *connIDState {
	return &connIDState{side: side, activeLimit: 2}
}

func (s *connIDState) setActiveLimit(limit uint64) {
	if limit > 0 {
		s.activeLimit = int64(limit)
	}
}

// initClient records the client's self-chosen source ID and the
// transient destination ID used for the first Initial packet.
func (s *connIDState) initClient(srcConnID, transientDstConnID []byte) {
	s.local = append(s.local, connID{seq: 0, cid: cloneBytes(srcConnID)})
	s.nextLocalSeq = 1
	s.remote = append(s.remote, remoteConnID{connID: connID{seq: -1, cid: cloneBytes(transientDstConnID)}})
}

// initServer records the client-chosen source ID (our first remote ID)
// and the server's own chosen source ID.
func (s *connIDState) initServer(clientSrcConnID, serverSrcConnID []byte) {
	s.remote = append(s.remote, remoteConnID{connID: connID{seq: 0, cid: cloneBytes(clientSrcConnID)}})
	s.local = append(s.local, connID{seq: 0, cid: cloneBytes(serverSrcConnID)})
	s.nextLocalSeq = 1
}

// srcConnID is the Source Connection ID to place in a sent packet.
func (s *connIDState) srcConnID() []byte {
	if len(s.local) == 0 {
		return nil
	}
	return s.local[len(s.local)-1].cid
}

// dstConnID is the Destination Connection ID to place in a sent packet:
// the first non-retired ID the peer has given us.
func (s *connIDState) dstConnID() (cid []byte, ok bool) {
	for i := range s.remote {
		if !s.remote[i].retired {
			return s.remote[i].cid, true
		}
	}
	return nil, false
}

// isValidStatelessResetToken reports whether token matches a non-retired
// remote connection ID we have used, the condition for treating an
// unparseable datagram as a stateless reset (§4 Stateless reset).
func (s *connIDState) isValidStatelessResetToken(token []byte) bool {
	for i := range s.remote {
		if s.remote[i].retired || s.remote[i].resetToken == nil {
			continue
		}
		if bytes.Equal(s.remote[i].resetToken, token) {
			return true
		}
	}
	return false
}

// issueLocal adds a newly generated local connection ID to advertise via
// NEW_CONNECTION_ID, respecting the host's preference for how many spares
// to keep outstanding. A fresh stateless reset token accompanies it,
// generated independently of the CID (RFC 9000, Section 10.3.2).
func (s *connIDState) issueLocal(cid []byte) int64 {
	seq := s.nextLocalSeq
	s.nextLocalSeq++
	s.local = append(s.local, connID{
		seq:        seq,
		cid:        cloneBytes(cid),
		sendNew:    true,
		resetToken: newStatelessResetToken(),
	})
	return seq
}

// needMoreLocalIDs reports whether the host should mint another local
// connection ID to keep a small pool of spares ahead of the peer, so a
// future migration need not stall on a NEW_CONNECTION_ID round trip.
func (s *connIDState) needMoreLocalIDs() bool {
	active := 0
	for i := range s.local {
		if !s.local[i].retired {
			active++
		}
	}
	const desiredSpares = 2
	return active < desiredSpares && int64(len(s.local)) < s.activeLimit
}

// newStatelessResetToken returns a random 16-byte stateless reset token
// (RFC 9000, Section 10.3) to advertise with a newly issued connection ID.
func newStatelessResetToken() []byte {
	token := make([]byte, resetTokenSize)
	rand.Read(token)
	return token
}

// handleNewConnectionID processes a received NEW_CONNECTION_ID frame,
// retiring any remote IDs below retirePriorTo (§4.9).
func (s *connIDState) handleNewConnectionID(seq, retirePriorTo int64, cid, resetToken []byte) error {
	if retirePriorTo > s.retireRemotePriorTo {
		s.retireRemotePriorTo = retirePriorTo
		for i := range s.remote {
			if s.remote[i].seq < retirePriorTo && !s.remote[i].retired {
				s.remote[i].retired = true
				s.remote[i].sendNew = true
			}
		}
	}
	if seq < s.retireRemotePriorTo {
		return nil // already retired, nothing to add
	}
	for i := range s.remote {
		if s.remote[i].seq == seq {
			return nil // duplicate
		}
	}
	active := 0
	for i := range s.remote {
		if !s.remote[i].retired {
			active++
		}
	}
	if int64(active) >= s.activeLimit {
		return newError(errConnectionIDLimit, "peer issued more connection IDs than active_connection_id_limit allows")
	}
	s.remote = append(s.remote, remoteConnID{
		connID:     connID{seq: seq, cid: cloneBytes(cid)},
		resetToken: cloneBytes(resetToken),
	})
	return nil
}

// switchRemote retires the currently active remote connection ID in favor
// of the next spare, for a migration that wants to break linkability with
// the old path (§4.9). It reports ok=false if no spare is available, in
// which case the caller keeps using the current remote ID.
func (s *connIDState) switchRemote() (cid []byte, retiredSeq int64, ok bool) {
	cur := -1
	for i := range s.remote {
		if !s.remote[i].retired {
			cur = i
			break
		}
	}
	if cur < 0 {
		return nil, 0, false
	}
	next := -1
	for i := cur + 1; i < len(s.remote); i++ {
		if !s.remote[i].retired {
			next = i
			break
		}
	}
	if next < 0 {
		return nil, 0, false
	}
	retiredSeq = s.remote[cur].seq
	s.remote[cur].retired = true
	s.remote[cur].sendNew = true
	return s.remote[next].cid, retiredSeq, true
}

// handleRetireConnectionID processes a received RETIRE_CONNECTION_ID
// frame by marking the named local sequence number retired.
func (s *connIDState) handleRetireConnectionID(seq int64) {
	for i := range s.local {
		if s.local[i].seq == seq {
			s.local[i].retired = true
		}
	}
}

// hasPendingNewConnectionIDs reports whether any local ID is awaiting its
// first NEW_CONNECTION_ID, without consuming the pending flag.
func (s *connIDState) hasPendingNewConnectionIDs() bool {
	for i := range s.local {
		if s.local[i].sendNew && !s.local[i].retired {
			return true
		}
	}
	return false
}

// hasPendingRetireConnectionIDs reports whether any remote sequence number
// is awaiting a RETIRE_CONNECTION_ID, without consuming the pending flag.
func (s *connIDState) hasPendingRetireConnectionIDs() bool {
	for i := range s.remote {
		if s.remote[i].sendNew && s.remote[i].retired {
			return true
		}
	}
	return false
}

// pendingNewConnectionIDs returns local IDs awaiting their first
// NEW_CONNECTION_ID and clears their pending flag.
func (s *connIDState) pendingNewConnectionIDs() []connID {
	var out []connID
	for i := range s.local {
		if s.local[i].sendNew && !s.local[i].retired {
			out = append(out, s.local[i])
			s.local[i].sendNew = false
		}
	}
	return out
}

// pendingRetireConnectionIDs returns remote sequence numbers awaiting a
// RETIRE_CONNECTION_ID and clears their pending flag.
func (s *connIDState) pendingRetireConnectionIDs() []int64 {
	var out []int64
	for i := range s.remote {
		if s.remote[i].sendNew && s.remote[i].retired {
			out = append(out, s.remote[i].seq)
			s.remote[i].sendNew = false
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
