// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"fmt"
	"time"
)

// Close begins the application-initiated shutdown sequence (§3, §7):
// the connection moves to Closing and starts the drain timer (three PTOs
// from now) at once; the next PollTransmit sends a single CONNECTION_CLOSE
// frame.
func (c *Conn) Close(now time.Time, appCode uint64, reason string) {
	if c.state >= stateClosing {
		return
	}
	c.closeLocally(now, &appCode, appCode, reason, true)
}

// closeTransport closes the connection with a transport-level error,
// either generated locally (a detected protocol violation) or never
// exposed to the peer at all (e.g. an internal invariant failure).
func (c *Conn) closeTransport(now time.Time, err *TransportError) {
	if c.state >= stateClosing {
		return
	}
	c.closeCode = err.Code
	c.closeReason = err.Reason
	c.closeApp = false
	c.state = stateClosing
	c.armDrainTimer(now)
	c.addEvent(ConnectionEvent{Kind: EventConnectionLost, Err: &ConnectionError{
		TransportErr: err,
		Code:         uint64(err.Code),
	}})
}

func (c *Conn) closeLocally(now time.Time, appCode *uint64, code uint64, reason string, app bool) {
	if c.state >= stateClosing {
		return
	}
	c.closeApp = app
	c.closeReason = reason
	if app {
		c.closeCode = transportErrorCode(code)
	} else {
		c.closeCode = errNo
	}
	c.state = stateClosing
	c.armDrainTimer(now)
}

// armDrainTimer schedules the Drained transition three PTOs from now, the
// window RFC 9000 recommends for absorbing reordered or retransmitted
// packets from the peer before forgetting the connection entirely.
func (c *Conn) armDrainTimer(now time.Time) {
	c.drainEndsAt = now.Add(3 * c.loss.pto(true))
}

// handleConnectionClose processes a received CONNECTION_CLOSE frame
// (application or transport), transitioning directly to Draining per §3:
// a connection that learns its peer has closed never sends a reply, it
// only waits out the drain period.
func (c *Conn) handleConnectionClose(now time.Time, app bool, code uint64, reason string) {
	if c.state >= stateClosing {
		return
	}
	c.closeRemote = true
	c.closeApp = app
	c.closeReason = reason
	c.state = stateDraining
	c.armDrainTimer(now)
	c.addEvent(ConnectionEvent{Kind: EventConnectionLost, Err: &ConnectionError{
		Remote:      true,
		Application: app,
		Code:        code,
		Reason:      reason,
	}})
}

func (c *Conn) enterDrained(now time.Time) {
	if c.state == stateDrained {
		return
	}
	c.state = stateDrained
	c.addEvent(ConnectionEvent{Kind: EventDrained})
	c.addEndpointEvent(EndpointEvent{Kind: EndpointDrained})
}

// InitialClose builds a single Initial-space CONNECTION_CLOSE packet for
// rejecting a connection attempt before a Conn exists at all -- an
// endpoint that refuses a handshake outright (malformed first flight,
// resource exhaustion) has no state machine to drive and no business
// allocating one (recovered from quinn-proto's free-standing
// initial_close function). origDstConnID and peerSrcConnID are read
// directly off the client's Initial packet; ourSrcConnID is whatever
// transient value the server wants to appear as its Source Connection ID,
// exactly as NewConn would use them, without installing any of it as a
// persistent connection.
func InitialClose(origDstConnID, peerSrcConnID, ourSrcConnID []byte, code transportErrorCode, reason string) ([]byte, error) {
	_, serverSecret := initialSecrets(origDstConnID)
	wk, err := deriveKeys(suiteAES128GCM, serverSecret)
	if err != nil {
		return nil, err
	}

	var w packetWriter
	w.reset(minInitialSize)
	lp := longPacket{
		ptype:     packetTypeInitial,
		version:   quicVersion1,
		num:       0,
		dstConnID: peerSrcConnID,
		srcConnID: ourSrcConnID,
	}
	w.startProtectedLongHeaderPacket(invalidPacketNumber, lp)
	w.appendConnectionCloseFrame(false, uint64(code), 0, reason)
	sent := w.finishProtectedLongHeaderPacket(invalidPacketNumber, wk, lp)
	if sent == nil {
		return nil, fmt.Errorf("quic: building initial close packet")
	}
	w.appendPaddingTo(minInitialSize)
	return w.datagram(), nil
}

// handleStatelessReset processes an authenticated stateless reset token in
// place of a valid packet (§4): the connection is lost immediately, with
// no drain period, since the peer has told us it has no state for us.
func (c *Conn) handleStatelessReset(now time.Time) {
	if c.state >= stateClosing {
		return
	}
	c.state = stateDraining
	c.addEvent(ConnectionEvent{Kind: EventConnectionLost, Err: &ConnectionError{Remote: true}})
	c.enterDrained(now)
}
