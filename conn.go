// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quic implements a QUIC transport core: the packet, frame, loss
// detection, congestion control and stream-multiplexing state machine of
// RFC 9000/9001/9002, exposed as a synchronous, non-blocking poll loop
// rather than as a goroutine-per-connection service. A host drives a Conn
// by calling ReceiveDatagram when a packet arrives, Poll (and PollTimers,
// PollTransmit) on its own schedule, and Close to start the shutdown
// sequence; the Conn never spawns goroutines or blocks.
package quic

import (
	"crypto/rand"
	"fmt"
	"net/netip"
	"time"
)

// connSide identifies which endpoint of a connection this Conn is.
type connSide int

const (
	clientSide connSide = iota
	serverSide
)

func (s connSide) String() string {
	if s == serverSide {
		return "server"
	}
	return "client"
}

// connState is the connection-level state machine of §3.
type connState int

const (
	stateHandshake connState = iota
	stateEstablished
	stateClosing
	stateDraining
	stateDrained
)

// Conn is one QUIC connection. All methods must be called with external
// synchronization; Conn performs none of its own, matching a poll-driven
// host rather than an internally-threaded one.
type Conn struct {
	side    connSide
	config  *Config
	session Session

	state      connState
	remoteAddr netip.AddrPort // the path currently in use

	origDstConnID []byte // client only: value sent in the first Initial
	ids           *connIDState

	spaces [numberSpaceCount]*packetSpace
	crypto [numberSpaceCount]cryptoSpace

	loss    *lossState
	streams *streamsState

	localTP  TransportParameters
	remoteTP TransportParameters
	haveRemoteTP bool

	handshakeConfirmed bool
	acceptedZeroRTT    bool
	zeroRTTRejected    bool
	dataSecrets        keyUpdateSecrets

	closeCode   transportErrorCode
	closeApp    bool
	closeReason string
	closeRemote bool
	sentCloseAt time.Time
	drainEndsAt time.Time
	idleTimeoutAt time.Time
	keepAliveAt   time.Time

	pto0Armed bool

	haveValidatedClient bool // server: an Initial-space packet has been processed
	receivedRetry       bool // client: a Retry has already been accepted
	retryToken          []byte

	pendingPathResponse *[8]byte // PATH_CHALLENGE data awaiting a PATH_RESPONSE, to send back on the path it arrived on
	pathValidated       bool

	// Path migration state (§4.9). prevRemoteAddr is non-nil while a
	// migration to remoteAddr is still being validated, letting the Conn
	// revert if validation times out. pathChallenge is the 8 bytes this
	// Conn sent in its own outgoing PATH_CHALLENGE; pathChallengePending is
	// cleared once a matching PATH_RESPONSE arrives from remoteAddr.
	prevRemoteAddr         *netip.AddrPort
	pathChallenge          [8]byte
	pathChallengePending   bool
	pathValidationDeadline time.Time
	offPathResponses       []offPathResponse

	sendHandshakeDone        bool
	closeSent                bool
	needIdentifiersRequested bool

	// bytesReceived and bytesSent bound how much an unvalidated server may
	// send back to a client address before hearing from it again (§8.1).
	bytesReceived uint64
	bytesSent     uint64

	events         []ConnectionEvent
	endpointEvents []EndpointEvent
	w              packetWriter

	lastSendTime time.Time
}

// Transmit is one datagram PollTransmit hands to the host, addressed to
// Destination with the ECN codepoint (if any) the host should mark it
// with on the wire -- the pairing §4.9 migration and §4.2 ECN validation
// both need, since neither is meaningful without knowing which path a
// datagram travels (recovered from the teacher's real conn.go, whose
// peerAddr field this package generalizes into an explicit destination
// per outgoing datagram rather than an implicit one per Conn).
type Transmit struct {
	Destination netip.AddrPort
	Packet      []byte
	ECN         ECNCodepoint
}

// amplificationLimit returns the number of bytes this Conn may still send
// without having validated the peer's address, or -1 if unlimited.
func (c *Conn) amplificationLimit() int {
	if c.side != serverSide || c.haveValidatedClient {
		return -1
	}
	limit := 3*c.bytesReceived - c.bytesSent
	if limit > uint64(1<<31) {
		// bytesSent should never exceed 3*bytesReceived; treat an
		// underflow defensively as no remaining budget.
		return 0
	}
	return int(limit)
}

// connIDLength is the length, in bytes, of connection IDs this core
// generates for itself.
const connIDLength = 8

// NewConn creates a connection in the Handshake state. origDstConnID is
// the client's original Destination Connection ID (chosen by the client
// for its first Initial packet, used to derive Initial secrets per RFC
// 9001, Section 5.2). peerSrcConnID is the peer's current Source
// Connection ID: for a client this is unknown yet and may be nil (it is
// learned from the server's first response and installed separately);
// for a server it is the client's Source Connection ID read from that
// first Initial packet.
func NewConn(now time.Time, side connSide, cfg *Config, session Session, origDstConnID, peerSrcConnID []byte, remoteAddr netip.AddrPort) (*Conn, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Conn{
		side:          side,
		config:        cfg,
		session:       session,
		state:         stateHandshake,
		remoteAddr:    remoteAddr,
		origDstConnID: origDstConnID,
		loss:          newLossState(cfg, side == clientSide),
	}
	for i := range c.spaces {
		c.spaces[i] = newPacketSpace()
	}
	c.ids = newConnIDState(side)
	localConnID, err := newRandomConnID(connIDLength)
	if err != nil {
		return nil, err
	}
	if side == clientSide {
		c.ids.initClient(localConnID, origDstConnID)
	} else {
		c.ids.initServer(peerSrcConnID, localConnID)
	}
	c.streams = newStreamsState(side, cfg)
	c.localTP = session.TransportParameters()
	if side == serverSide {
		c.localTP.OriginalDestinationConnectionID = origDstConnID
		c.ids.local[0].resetToken = newStatelessResetToken()
		c.localTP.StatelessResetToken = c.ids.local[0].resetToken
	}
	c.idleTimeoutAt = now.Add(cfg.maxIdleTimeout())
	if d := cfg.keepAlivePeriod(); d > 0 {
		c.keepAliveAt = now.Add(d)
	}

	initialSecretSuite := suiteAES128GCM
	clientSecret, serverSecret := initialSecrets(origDstConnID)
	var mySecret, peerSecret []byte
	if side == clientSide {
		mySecret, peerSecret = clientSecret, serverSecret
	} else {
		mySecret, peerSecret = serverSecret, clientSecret
	}
	wk, err := deriveKeys(initialSecretSuite, mySecret)
	if err != nil {
		return nil, err
	}
	rk, err := deriveKeys(initialSecretSuite, peerSecret)
	if err != nil {
		return nil, err
	}
	c.crypto[initialSpace] = cryptoSpace{suite: initialSecretSuite, read: rk, write: wk}
	c.driveHandshake(now)
	return c, nil
}

// Side reports whether this is the client or server half of the
// connection (recovered from quinn-proto's side() accessor).
func (c *Conn) Side() connSide { return c.side }

// RemoteAddr returns the path currently in use: the address datagrams are
// sent to and, once a migration validates, the address they are accepted
// from (recovered from quinn-proto's remote() accessor, adapted to this
// package's netip-based address representation).
func (c *Conn) RemoteAddr() netip.AddrPort { return c.remoteAddr }

// RemoteConnID returns the connection ID currently in use as the
// Destination Connection ID of outgoing packets, the peer-chosen
// identifier this side addresses it by (recovered from quinn-proto's
// rem_cid() accessor).
func (c *Conn) RemoteConnID() (cid []byte, ok bool) {
	return c.ids.dstConnID()
}

// IsHandshaking reports whether the handshake has not yet completed.
func (c *Conn) IsHandshaking() bool { return c.state == stateHandshake }

// HandshakeComplete reports whether the connection has left the Handshake
// state (the TLS handshake completed, or the connection closed first); it
// does not wait for handshake confirmation.
func (c *Conn) HandshakeComplete() bool {
	return c.state != stateHandshake
}

// IsClosed reports whether the connection has begun its terminal sequence
// (Closing, Draining, or Drained).
func (c *Conn) IsClosed() bool { return c.state >= stateClosing }

// IsDrained reports whether the connection may be forgotten entirely.
func (c *Conn) IsDrained() bool { return c.state == stateDrained }

// AcceptedZeroRTT reports whether the server accepted this connection's
// 0-RTT data (meaningful on the client, once the handshake completes).
func (c *Conn) AcceptedZeroRTT() bool { return c.acceptedZeroRTT }

// RemoteTransportParameters returns the peer's transport parameters, once
// received.
func (c *Conn) RemoteTransportParameters() (TransportParameters, bool) {
	return c.remoteTP, c.haveRemoteTP
}

// discardKeys discards the keys and packet-number space for a space whose
// purpose is complete, per §4.11 (Initial keys when the client sends its
// first Handshake packet, or on either side when the handshake completes;
// Handshake keys when the handshake is confirmed).
func (c *Conn) discardKeys(now time.Time, space numberSpace) {
	sp := c.spaces[space]
	if sp.discarded {
		return
	}
	sp.discarded = true
	for _, p := range sp.sent {
		c.loss.inFlight.remove(p)
	}
	sp.sent = nil
	sp.pending = retransmits{}
	c.crypto[space] = cryptoSpace{}
}

// setRemoteTransportParameters records the peer's transport parameters and
// applies the flow-control limits they grant, rejecting 0-RTT if the
// server's final parameters would tighten a limit 0-RTT data assumed
// (§4.11).
func (c *Conn) setRemoteTransportParameters(tp TransportParameters, zeroRTTOffered TransportParameters, hadZeroRTT bool) error {
	if hadZeroRTT && tightensFlowControl(zeroRTTOffered, tp) {
		c.zeroRTTRejected = true
		return newError0RTTRejected("transport parameters tightened below 0-RTT values")
	}
	c.remoteTP = tp
	c.haveRemoteTP = true
	c.streams.localLimitBidi = tp.InitialMaxStreamsBidi
	c.streams.localLimitUni = tp.InitialMaxStreamsUni
	c.streams.maxData = tp.InitialMaxData
	c.ids.setActiveLimit(tp.ActiveConnectionIDLimit)
	c.loss.rtt.maxAckDelay = tp.MaxAckDelay
	return nil
}

// touchIdleTimeout resets the idle timer. It is called for every
// non-duplicate packet from the peer that decrypts, and after every
// datagram PollTransmit builds.
func (c *Conn) touchIdleTimeout(now time.Time) {
	d := c.config.maxIdleTimeout()
	if d <= 0 {
		return
	}
	pto := c.loss.pto(true)
	if 3*pto > d {
		d = 3 * pto
	}
	c.idleTimeoutAt = now.Add(d)
}

func (c *Conn) addEvent(e ConnectionEvent) {
	c.events = append(c.events, e)
}

// newRandomConnID generates a random connection ID of n bytes; NewConn uses
// it for this side's initial source connection ID.
func newRandomConnID(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("quic: generating connection ID: %w", err)
	}
	return b, nil
}
