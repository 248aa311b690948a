// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// Session is the TLS capability the core consumes to drive the
// handshake (§1): the TLS library itself is an external collaborator,
// never imported here. A host wires a concrete Session backed by its own
// QUIC-aware TLS stack (for example, crypto/tls's QUICConn, or a test
// double).
type Session interface {
	// ReadHandshake delivers CRYPTO bytes received at the given level to
	// the TLS state machine.
	ReadHandshake(level numberSpace, data []byte) error

	// WriteHandshake drains any TLS output produced since the last call,
	// along with the level it must be sent at. It returns ok=false when
	// there is nothing more to write right now.
	WriteHandshake() (level numberSpace, data []byte, ok bool)

	// TransportParameters returns the local transport parameters to send
	// to the peer, computed once the handshake begins.
	TransportParameters() TransportParameters

	// PeerTransportParameters reports the parameters most recently
	// received from the peer, once available.
	PeerTransportParameters() (TransportParameters, bool)

	// HandshakeComplete reports whether the TLS handshake has finished.
	HandshakeComplete() bool

	// ExportSecret derives length bytes of keying material labeled by
	// label and context, per RFC 9001's use of the TLS exporter for
	// traffic secrets and key updates.
	ExportSecret(label string, context []byte, length int) []byte

	// NegotiatedSuite reports the AEAD suite the handshake selected.
	NegotiatedSuite() aeadSuite

	// ConnectionState exposes negotiated protocol/server-name information
	// for diagnostics (see the accessors recovered in SPEC_FULL.md §9).
	ConnectionState() (protocol string, serverName string)
}
