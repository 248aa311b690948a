// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"net/netip"
	"testing"
	"time"
)

// fakeHandshakeMsg is one flight of a fakeSession's scripted handshake.
type fakeHandshakeMsg struct {
	level numberSpace
	data  []byte
}

// fakeSession is a minimal Session double driving a fixed two-round-trip
// handshake script (ClientHello/ServerHello at Initial, Finished flights
// at Handshake), enough to exercise every state transition PollTransmit
// and ReceiveDatagram depend on without linking in a real TLS stack.
type fakeSession struct {
	side   connSide
	seed   []byte
	outbox []fakeHandshakeMsg

	localTP    TransportParameters
	peerTP     TransportParameters
	havePeerTP bool

	complete bool
}

func newFakeSession(side connSide, seed []byte, cfg *Config) *fakeSession {
	s := &fakeSession{
		side:    side,
		seed:    seed,
		localTP: defaultTransportParameters(cfg),
		peerTP:  defaultTransportParameters(cfg),
	}
	if side == clientSide {
		s.outbox = append(s.outbox, fakeHandshakeMsg{initialSpace, []byte("CH")})
	}
	return s
}

func (s *fakeSession) ReadHandshake(level numberSpace, data []byte) error {
	s.havePeerTP = true
	switch {
	case s.side == serverSide && level == initialSpace && string(data) == "CH":
		s.outbox = append(s.outbox,
			fakeHandshakeMsg{initialSpace, []byte("SH")},
			fakeHandshakeMsg{handshakeSpace, []byte("SF")})
	case s.side == clientSide && level == handshakeSpace && string(data) == "SF":
		s.outbox = append(s.outbox, fakeHandshakeMsg{handshakeSpace, []byte("CF")})
		s.complete = true
	case s.side == serverSide && level == handshakeSpace && string(data) == "CF":
		s.complete = true
	}
	return nil
}

func (s *fakeSession) WriteHandshake() (level numberSpace, data []byte, ok bool) {
	if len(s.outbox) == 0 {
		return 0, nil, false
	}
	m := s.outbox[0]
	s.outbox = s.outbox[1:]
	return m.level, m.data, true
}

func (s *fakeSession) TransportParameters() TransportParameters { return s.localTP }

func (s *fakeSession) PeerTransportParameters() (TransportParameters, bool) {
	return s.peerTP, s.havePeerTP
}

func (s *fakeSession) HandshakeComplete() bool { return s.complete }

// ExportSecret is a pure function of the shared seed and label: both ends
// of a fakeSession pair hold the same seed, so deriving with the same
// label yields the same bytes on each side, exactly as a real TLS
// exporter would for a negotiated secret.
func (s *fakeSession) ExportSecret(label string, context []byte, length int) []byte {
	return hkdfExpandLabel(s.seed, label, context, length)
}

func (s *fakeSession) NegotiatedSuite() aeadSuite { return suiteAES128GCM }

func (s *fakeSession) ConnectionState() (protocol string, serverName string) {
	return "fake/1", "conn-test.example"
}

// newTestConnPair creates a client and server Conn sharing a fake
// handshake session, wired together but with no datagrams exchanged yet.
var (
	testClientAddr = netip.MustParseAddrPort("192.0.2.1:1111")
	testServerAddr = netip.MustParseAddrPort("192.0.2.2:2222")
)

func newTestConnPair(t *testing.T, now time.Time, cfg *Config) (client, server *Conn) {
	t.Helper()
	seed := []byte("conn_test shared handshake secret seed")

	origDstConnID, err := newRandomConnID(connIDLength)
	if err != nil {
		t.Fatal(err)
	}

	clientSess := newFakeSession(clientSide, seed, cfg)
	client, err = NewConn(now, clientSide, cfg, clientSess, origDstConnID, nil, testServerAddr)
	if err != nil {
		t.Fatalf("NewConn(client): %v", err)
	}

	serverSess := newFakeSession(serverSide, seed, cfg)
	server, err = NewConn(now, serverSide, cfg, serverSess, origDstConnID, client.ids.srcConnID(), testClientAddr)
	if err != nil {
		t.Fatalf("NewConn(server): %v", err)
	}
	return client, server
}

// pumpRounds exchanges datagrams between client and server for the given
// number of rounds, advancing the clock by one millisecond per round and
// accumulating any events each side reports.
func pumpRounds(now time.Time, client, server *Conn, clientEvents, serverEvents *[]ConnectionEvent, rounds int) time.Time {
	for i := 0; i < rounds; i++ {
		if xmit, ok := client.PollTransmit(now); ok {
			server.ReceiveDatagram(now, testClientAddr, xmit.ECN, xmit.Packet)
		}
		if xmit, ok := server.PollTransmit(now); ok {
			client.ReceiveDatagram(now, testServerAddr, xmit.ECN, xmit.Packet)
		}
		*clientEvents = append(*clientEvents, client.Poll()...)
		*serverEvents = append(*serverEvents, server.Poll()...)
		now = now.Add(time.Millisecond)
	}
	return now
}

// pumpUntil pumps one round at a time until cond reports true, failing
// the test if it does not do so within maxRounds.
func pumpUntil(t *testing.T, now time.Time, client, server *Conn, clientEvents, serverEvents *[]ConnectionEvent, maxRounds int, cond func() bool) time.Time {
	t.Helper()
	for i := 0; i < maxRounds; i++ {
		now = pumpRounds(now, client, server, clientEvents, serverEvents, 1)
		if cond() {
			return now
		}
	}
	t.Fatalf("condition not satisfied after %d rounds", maxRounds)
	return now
}

func hasEventKind(events []ConnectionEvent, kind ConnectionEventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestHandshakeCompletes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{}
	client, server := newTestConnPair(t, now, cfg)

	var clientEvents, serverEvents []ConnectionEvent
	now = pumpUntil(t, now, client, server, &clientEvents, &serverEvents, 50, func() bool {
		return hasEventKind(clientEvents, EventHandshakeConfirmed) &&
			hasEventKind(serverEvents, EventHandshakeConfirmed)
	})
	_ = now

	if !client.HandshakeComplete() || !server.HandshakeComplete() {
		t.Fatalf("HandshakeComplete() = false after confirmation events")
	}
	if tp, ok := server.RemoteTransportParameters(); !ok || tp.InitialMaxStreamsBidi == 0 {
		t.Errorf("server's view of client transport parameters looks wrong: %+v, ok=%v", tp, ok)
	}
}

func TestStreamDataRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{}
	client, server := newTestConnPair(t, now, cfg)

	var clientEvents, serverEvents []ConnectionEvent
	now = pumpUntil(t, now, client, server, &clientEvents, &serverEvents, 50, func() bool {
		return hasEventKind(clientEvents, EventHandshakeConfirmed) &&
			hasEventKind(serverEvents, EventHandshakeConfirmed)
	})

	stream, ok := client.OpenStream(StreamBidi)
	if !ok {
		t.Fatalf("OpenStream failed")
	}
	want := []byte("hello from the client")
	if n, err := stream.Write(want); err != nil || n != len(want) {
		t.Fatalf("Write() = %v, %v, want %v, nil", n, err, len(want))
	}
	if err := stream.Finish(); err != nil {
		t.Fatalf("Finish(): %v", err)
	}

	var peer *Stream
	now = pumpUntil(t, now, client, server, &clientEvents, &serverEvents, 50, func() bool {
		if peer == nil {
			peer, _ = server.AcceptStream(StreamBidi)
		}
		return peer != nil && hasEventKind(serverEvents, EventStreamReadable)
	})

	var got []byte
	buf := make([]byte, 64)
	for {
		n, err := peer.Read(buf)
		got = append(got, buf[:n]...)
		if err == ErrStreamFinished {
			break
		}
		if err != nil {
			t.Fatalf("Read(): %v", err)
		}
		if n == 0 {
			now = pumpRounds(now, client, server, &clientEvents, &serverEvents, 1)
		}
	}
	if string(got) != string(want) {
		t.Errorf("received %q, want %q", got, want)
	}

	now = pumpUntil(t, now, client, server, &clientEvents, &serverEvents, 50, func() bool {
		return hasEventKind(clientEvents, EventStreamFinished)
	})
	_ = now
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{MaxIdleTimeout: 5 * time.Second}
	client, _ := newTestConnPair(t, now, cfg)

	client.OnTimeout(now.Add(cfg.MaxIdleTimeout), TimerIdle)

	if !client.IsDrained() {
		t.Errorf("IsDrained() = false after idle timeout, want true")
	}
	if !hasEventKind(client.Poll(), EventConnectionLost) {
		t.Errorf("did not observe EventConnectionLost after idle timeout")
	}
}

func TestCloseSendsConnectionClose(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{}
	client, server := newTestConnPair(t, now, cfg)

	var clientEvents, serverEvents []ConnectionEvent
	now = pumpUntil(t, now, client, server, &clientEvents, &serverEvents, 50, func() bool {
		return hasEventKind(clientEvents, EventHandshakeConfirmed) &&
			hasEventKind(serverEvents, EventHandshakeConfirmed)
	})

	client.Close(now, 42, "goodbye")
	if !client.IsClosed() {
		t.Errorf("IsClosed() = false immediately after Close")
	}

	xmit, ok := client.PollTransmit(now)
	if !ok {
		t.Fatalf("Close did not produce a CONNECTION_CLOSE datagram")
	}
	if _, ok := client.PollTransmit(now); ok {
		t.Errorf("second PollTransmit after Close unexpectedly produced another datagram")
	}

	server.ReceiveDatagram(now, testClientAddr, xmit.ECN, xmit.Packet)
	if !server.IsClosed() {
		t.Errorf("server did not transition to closed on receiving CONNECTION_CLOSE")
	}
	ev := server.Poll()
	if !hasEventKind(ev, EventConnectionLost) {
		t.Errorf("server did not report EventConnectionLost")
	}
	for _, e := range ev {
		if e.Kind == EventConnectionLost {
			if e.Err == nil || !e.Err.Remote || e.Err.Code != 42 {
				t.Errorf("got event %+v, want Remote=true Code=42", e.Err)
			}
		}
	}
}
