// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"net/netip"
	"time"
)

// ConnectionEventKind identifies the kind of application-visible event a
// Conn has queued for Poll to return.
type ConnectionEventKind int

const (
	EventHandshakeConfirmed ConnectionEventKind = iota
	EventConnectionLost
	EventStreamReadable
	EventStreamWritable
	EventStreamFinished
	EventStreamStopped
	EventStreamReset
	EventStreamAvailable // a new local stream may now be opened (MAX_STREAMS increased)
	EventDrained
)

// ConnectionEvent is one application-visible occurrence, returned in order
// from Poll. This mirrors quinn-proto's Event enum, adapted to the
// teacher's style of a single tagged struct rather than per-kind types.
type ConnectionEvent struct {
	Kind ConnectionEventKind

	Stream StreamID // StreamReadable, StreamWritable, StreamFinished, StreamStopped, StreamReset
	Dir    Direction // StreamAvailable

	Err *ConnectionError // ConnectionLost

	ErrorCode uint64 // StreamStopped, StreamReset
}

// Poll drains and returns every application event queued since the last
// call, in the order they occurred.
func (c *Conn) Poll() []ConnectionEvent {
	if len(c.events) == 0 {
		return nil
	}
	ev := c.events
	c.events = nil
	return ev
}

// EndpointEventKind identifies the kind of event a Conn reports to the
// endpoint that owns it, as distinct from ConnectionEvent's
// application-visible occurrences: these are the ones an endpoint needs in
// order to route datagrams and manage connection IDs across every Conn it
// multiplexes (mirrors quinn-proto's EndpointEvent enum).
type EndpointEventKind int

const (
	// EndpointNeedIdentifiers asks the endpoint to mint and supply one more
	// local connection ID via AddLocalConnID: a Conn never generates its
	// own CIDs, since the endpoint is the one that owns the routing table
	// they must be unique within (§4.9).
	EndpointNeedIdentifiers EndpointEventKind = iota
	// EndpointDrained reports that this Conn has reached its terminal
	// state and the endpoint may release any resources (including routing
	// table entries for its connection IDs) associated with it.
	EndpointDrained
	// EndpointRetireConnectionID tells the endpoint that the remote
	// connection ID at Seq is no longer in use and the routing entry built
	// from it, if any, may be dropped.
	EndpointRetireConnectionID
	// EndpointMigrated reports that this Conn's validated remote address
	// has changed, so the endpoint must update the routing table entries
	// that dispatch inbound datagrams to it.
	EndpointMigrated
)

// EndpointEvent is one occurrence an owning endpoint needs to react to,
// returned in order from PollEndpointEvents.
type EndpointEvent struct {
	Kind EndpointEventKind

	Seq  int64        // EndpointRetireConnectionID
	Addr netip.AddrPort // EndpointMigrated
}

// PollEndpointEvents drains and returns every endpoint-facing event queued
// since the last call, in the order they occurred.
func (c *Conn) PollEndpointEvents() []EndpointEvent {
	if len(c.endpointEvents) == 0 {
		return nil
	}
	ev := c.endpointEvents
	c.endpointEvents = nil
	return ev
}

func (c *Conn) addEndpointEvent(e EndpointEvent) {
	c.endpointEvents = append(c.endpointEvents, e)
}

// Timer identifies one of a Conn's internal deadlines.
type Timer int

const (
	TimerIdle Timer = iota
	TimerLossDetection
	TimerKeepAlive
	TimerKeyDiscard
	TimerDrainEnd
	// TimerPathValidation fires when an outstanding PATH_CHALLENGE has gone
	// unanswered long enough to abandon the migration it was validating
	// (§4.9).
	TimerPathValidation
)

// timerDeadline is one armed timer and when it fires.
type timerDeadline struct {
	Timer Timer
	At    time.Time
}

// PollTimers returns the earliest deadline the host must wake this Conn
// up at, or ok=false if none are armed. The host is expected to call
// OnTimeout(deadline.At, deadline.Timer) no earlier than that instant.
func (c *Conn) PollTimers(now time.Time) (d timerDeadline, ok bool) {
	var best timerDeadline
	have := false
	consider := func(t Timer, at time.Time) {
		if at.IsZero() {
			return
		}
		if !have || at.Before(best.At) {
			best = timerDeadline{Timer: t, At: at}
			have = true
		}
	}

	if c.state < stateDrained {
		consider(TimerIdle, c.idleTimeoutAt)
	}
	if c.state == stateHandshake || c.state == stateEstablished {
		consider(TimerKeepAlive, c.keepAliveAt)
		if at, ok := c.lossDetectionDeadline(now); ok {
			consider(TimerLossDetection, at)
		}
	}
	if c.state == stateDraining || c.state == stateClosing {
		consider(TimerDrainEnd, c.drainEndsAt)
	}
	if cs := c.crypto[dataSpace]; cs.prev != nil && !cs.prev.updateAckTime.IsZero() {
		consider(TimerKeyDiscard, cs.prev.updateAckTime.Add(3*c.loss.pto(true)))
	}
	if c.pathChallengePending {
		consider(TimerPathValidation, c.pathValidationDeadline)
	}
	return best, have
}

// OnTimeout fires the logic associated with a timer that has reached its
// deadline. The host calls this after PollTimers reports a past-due
// deadline; which is reported lets the host log which timer fired
// without the core needing to.
func (c *Conn) OnTimeout(now time.Time, t Timer) {
	switch t {
	case TimerIdle:
		c.closeLocally(now, nil, 0, "", false)
		c.addEvent(ConnectionEvent{Kind: EventConnectionLost, Err: &ConnectionError{
			TransportErr: &TransportError{Reason: "idle timeout"},
		}})
		c.enterDrained(now)
	case TimerKeepAlive:
		c.sendKeepAlive(now)
	case TimerLossDetection:
		c.onLossDetectionTimeout(now)
	case TimerDrainEnd:
		c.enterDrained(now)
	case TimerKeyDiscard:
		c.discardPreviousKeys(now)
	case TimerPathValidation:
		c.abandonMigration(now)
	}
}
