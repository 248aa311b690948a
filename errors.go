// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "fmt"

// transportErrorCode is a QUIC transport error code (RFC 9000, Section 20.1).
type transportErrorCode uint64

const (
	errNo                 transportErrorCode = 0x0
	errInternal           transportErrorCode = 0x1
	errConnectionRefused  transportErrorCode = 0x2
	errFlowControl        transportErrorCode = 0x3
	errStreamLimit        transportErrorCode = 0x4
	errStreamState        transportErrorCode = 0x5
	errFinalSize          transportErrorCode = 0x6
	errFrameEncoding      transportErrorCode = 0x7
	errTransportParameter transportErrorCode = 0x8
	errConnectionIDLimit  transportErrorCode = 0x9
	errProtocolViolation  transportErrorCode = 0xa
	errInvalidToken       transportErrorCode = 0xb
	errApplication        transportErrorCode = 0xc
	errCryptoBufferExceed transportErrorCode = 0xd
	errKeyUpdate          transportErrorCode = 0xe
	errAEADLimit          transportErrorCode = 0xf
	errNoViablePath       transportErrorCode = 0x10
)

func (e transportErrorCode) String() string {
	switch e {
	case errNo:
		return "NO_ERROR"
	case errInternal:
		return "INTERNAL_ERROR"
	case errConnectionRefused:
		return "CONNECTION_REFUSED"
	case errFlowControl:
		return "FLOW_CONTROL_ERROR"
	case errStreamLimit:
		return "STREAM_LIMIT_ERROR"
	case errStreamState:
		return "STREAM_STATE_ERROR"
	case errFinalSize:
		return "FINAL_SIZE_ERROR"
	case errFrameEncoding:
		return "FRAME_ENCODING_ERROR"
	case errTransportParameter:
		return "TRANSPORT_PARAMETER_ERROR"
	case errConnectionIDLimit:
		return "CONNECTION_ID_LIMIT_ERROR"
	case errProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case errInvalidToken:
		return "INVALID_TOKEN"
	case errApplication:
		return "APPLICATION_ERROR"
	case errCryptoBufferExceed:
		return "CRYPTO_BUFFER_EXCEEDED"
	case errKeyUpdate:
		return "KEY_UPDATE_ERROR"
	case errAEADLimit:
		return "AEAD_LIMIT_REACHED"
	case errNoViablePath:
		return "NO_VIABLE_PATH"
	}
	return fmt.Sprintf("ERROR_0x%x", uint64(e))
}

// TransportError is a locally or remotely generated protocol violation.
//
// A TransportError generated locally (§7) transitions the connection to
// Closed and queues exactly one CONNECTION_CLOSE frame. A TransportError
// received from the peer (via a CONNECTION_CLOSE frame) transitions
// directly to Draining.
type TransportError struct {
	Code      transportErrorCode
	FrameType frameType // 0 if not specific to a frame
	Reason    string
}

func (e *TransportError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("quic: %v", e.Code)
	}
	return fmt.Sprintf("quic: %v: %v", e.Code, e.Reason)
}

func newError(code transportErrorCode, reason string) *TransportError {
	return &TransportError{Code: code, Reason: reason}
}

func newFrameError(code transportErrorCode, ft frameType, reason string) *TransportError {
	return &TransportError{Code: code, FrameType: ft, Reason: reason}
}

// ConnectionError reports that the peer closed the connection, either with
// a CONNECTION_CLOSE (transport-level) or an application-level close.
type ConnectionError struct {
	Remote       bool
	Application  bool
	Code         uint64
	Reason       string
	TransportErr *TransportError // set when Application is false and Remote is false (locally generated)
}

func (e *ConnectionError) Error() string {
	who := "local"
	if e.Remote {
		who = "peer"
	}
	kind := "transport"
	if e.Application {
		kind = "application"
	}
	return fmt.Sprintf("quic: connection closed by %v (%v error 0x%x): %v", who, kind, e.Code, e.Reason)
}

// IdleTimeoutError reports that the connection's idle timer expired.
type IdleTimeoutError struct{}

func (IdleTimeoutError) Error() string { return "quic: idle timeout" }

// VersionMismatchError reports that the peer's Version Negotiation packet
// did not list any version we support.
type VersionMismatchError struct{}

func (VersionMismatchError) Error() string { return "quic: no compatible QUIC version" }

// StatelessResetError reports that an authentic stateless reset token was
// observed in place of a packet from the peer.
type StatelessResetError struct{}

func (StatelessResetError) Error() string { return "quic: stateless reset" }

// LocallyClosedError reports that the application called Close.
type LocallyClosedError struct{}

func (LocallyClosedError) Error() string { return "quic: closed locally" }

// Stream-level errors. These are local to a single operation and never
// close the connection (§7).

// ErrUnknownStream is returned by stream operations on an id the peer
// never opened and we never created.
var ErrUnknownStream = fmt.Errorf("quic: unknown stream")

// ErrStreamBlocked is returned by Write when flow control prevents
// queuing any more data right now.
var ErrStreamBlocked = fmt.Errorf("quic: stream blocked by flow control")

// StreamStoppedError is returned by Write when the peer sent STOP_SENDING.
type StreamStoppedError struct{ Code uint64 }

func (e *StreamStoppedError) Error() string { return fmt.Sprintf("quic: stream stopped (code %d)", e.Code) }

// StreamResetError is returned by Read when the peer sent RESET_STREAM.
type StreamResetError struct{ Code uint64 }

func (e *StreamResetError) Error() string { return fmt.Sprintf("quic: stream reset (code %d)", e.Code) }

// ErrStreamFinished is returned by Read once all data up to the final
// offset has been delivered.
var ErrStreamFinished = fmt.Errorf("quic: stream finished")

// err0RTTRejected is a local sentinel (not a wire transport error code)
// reported when the server's final transport parameters tighten a limit
// 0-RTT data already assumed, per §4.11.
var err0RTTRejected = fmt.Errorf("quic: 0-RTT rejected")

func newError0RTTRejected(reason string) error {
	return fmt.Errorf("%w: %s", err0RTTRejected, reason)
}
