// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/rand"
	"net/netip"
	"time"
)

// offPathResponse is one PATH_RESPONSE this Conn owes to an address other
// than its current remoteAddr: an off-path PATH_CHALLENGE must be answered
// without adopting the new path, so its response is queued separately from
// the ordinary per-packet frame builder rather than piggybacked on a
// packet addressed to remoteAddr (§4.9).
type offPathResponse struct {
	addr netip.AddrPort
	data [8]byte
}

// migrate reacts to a non-probing packet arriving from an address other
// than remoteAddr (§4.9): the path is provisionally switched immediately
// (so the connection keeps making progress instead of waiting on
// validation), while a PATH_CHALLENGE is sent to confirm the peer
// genuinely controls the new address before anything sent there is
// trusted the way a validated path is. Grounded on quinn-proto's
// Connection::migrate, which performs the same immediate-switch-plus-
// validate sequence.
func (c *Conn) migrate(now time.Time, remote netip.AddrPort) {
	if c.pathChallengePending {
		// Already mid-validation for a previous migration; let that one
		// resolve (or time out) before considering another.
		return
	}
	old := c.remoteAddr
	c.prevRemoteAddr = &old
	c.remoteAddr = remote
	c.pathValidated = false

	if old.Addr() != remote.Addr() {
		c.loss.resetForNewPath()
	}

	if _, retiredSeq, ok := c.ids.switchRemote(); ok {
		c.addEndpointEvent(EndpointEvent{Kind: EndpointRetireConnectionID, Seq: retiredSeq})
	}

	rand.Read(c.pathChallenge[:])
	c.pathChallengePending = true
	timeout := 3 * c.loss.pto(true)
	if min := 2 * c.config.initialRTT(); timeout < min {
		timeout = min
	}
	c.pathValidationDeadline = now.Add(timeout)

	if tr := c.config.tracer(); tr != nil && tr.Migrated != nil {
		tr.Migrated(remote)
	}
}

// handlePathResponse validates a received PATH_RESPONSE against the
// challenge this Conn sent, completing a migration in progress. A
// response that does not match the outstanding challenge, or that arrives
// from an address other than the path being validated, is ignored: RFC
// 9000, Section 8.2.3 requires the response travel the same path as the
// challenge it answers.
func (c *Conn) handlePathResponse(now time.Time, remote netip.AddrPort, data [8]byte) {
	if !c.pathChallengePending || data != c.pathChallenge {
		return
	}
	if remote != c.remoteAddr {
		return
	}
	c.pathChallengePending = false
	c.pathValidated = true
	c.prevRemoteAddr = nil
	c.addEndpointEvent(EndpointEvent{Kind: EndpointMigrated, Addr: remote})
}

// abandonMigration fires when an outstanding PATH_CHALLENGE times out
// (TimerPathValidation): the peer never proved it controls the new
// address, so this Conn reverts to the last validated path (§4.9).
func (c *Conn) abandonMigration(now time.Time) {
	if !c.pathChallengePending {
		return
	}
	c.pathChallengePending = false
	if c.prevRemoteAddr != nil {
		c.remoteAddr = *c.prevRemoteAddr
		c.prevRemoteAddr = nil
		c.pathValidated = true
	}
}

// queueOffPathResponse records a PATH_CHALLENGE received from an address
// other than remoteAddr, to be answered without migrating to it (§4.9).
func (c *Conn) queueOffPathResponse(remote netip.AddrPort, data [8]byte) {
	c.offPathResponses = append(c.offPathResponses, offPathResponse{addr: remote, data: data})
}
