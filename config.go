// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"net/netip"
	"time"
)

// maxBackoffExponent bounds the exponential backoff applied to the PTO and
// to the crypto retransmission timer (§6).
const maxBackoffExponent = 16

// maxAckBlocks bounds the number of ranges an ACK frame may encode (§6).
const maxAckBlocks = 64

// ackDelayExponent is the exponent we advertise and apply to our own
// ACK Delay fields (RFC 9000, Section 18.2).
const ackDelayExponent = 3

const resetTokenSize = 16

// minInitialSize is the minimum datagram size for a client Initial packet
// (RFC 9000, Section 14.1).
const minInitialSize = 1200

// Config holds the tunables enumerated in the specification (§6).
// A Config is read-only after it is handed to NewConn and may be shared,
// by pointer, across every Conn spawned from the same endpoint.
type Config struct {
	// MaxIdleTimeout is the maximum period of quiescence before the
	// connection is closed. Zero selects DefaultMaxIdleTimeout.
	MaxIdleTimeout time.Duration

	// KeepAlivePeriod, if non-zero, causes a PING to be sent whenever the
	// connection has been idle (no ack-eliciting packet sent) for this long.
	// It must be smaller than MaxIdleTimeout to be effective.
	KeepAlivePeriod time.Duration

	// InitialWindow is the initial congestion window, in bytes.
	InitialWindow uint64
	// MinimumWindow is the minimum congestion window, in bytes, including
	// after a persistent congestion collapse.
	MinimumWindow uint64
	// LossReductionFactorQ16 is the congestion window multiplier applied on
	// a congestion event, as a Q16 fixed-point fraction (RFC 9002 default:
	// 1/2, i.e. 32768).
	LossReductionFactorQ16 uint64
	// TimeThresholdQ16 scales the loss delay in the time-threshold loss
	// detector, as a Q16 fixed-point fraction added to 1 (RFC 9002 default:
	// 9/8, represented here as the fractional part 8192/65536... ; we store
	// the full multiplier's fractional numerator over 65536, default 8192
	// meaning 1 + 8192/65536 = 9/8).
	TimeThresholdQ16 uint64
	// PacketThreshold is the packet-number reordering threshold for loss
	// detection (RFC 9002 default: 3).
	PacketThreshold packetNumber
	// PersistentCongestionThreshold multiplies the PTO to determine the
	// persistent congestion window (RFC 9002 default: 3).
	PersistentCongestionThreshold uint64

	// InitialRTT is used to seed the RTT estimator before any sample is
	// available.
	InitialRTT time.Duration

	// MaxDatagramSize is the largest UDP payload we will send.
	MaxDatagramSize uint64

	// ReceiveWindow is the connection-level flow-control credit we extend
	// to the peer.
	ReceiveWindow uint64
	// SendWindow bounds how much unacknowledged stream data we keep
	// in flight across the whole connection.
	SendWindow uint64
	// StreamReceiveWindow is the default per-stream flow-control credit we
	// extend to the peer for streams the peer opens or we open.
	StreamReceiveWindow uint64
	// StreamWindowBidi / StreamWindowUni bound how many bidirectional and
	// unidirectional streams the peer may open concurrently.
	StreamWindowBidi uint64
	StreamWindowUni  uint64

	// EnableECN is not read by this package: outgoing datagrams are not
	// ECN-marked (Transmit.ECN stays ECNNotECT), and CE counts the peer
	// reports in ACK_ECN frames do not trigger congestion events.
	EnableECN bool

	// Tracer, if non-nil, receives diagnostic callbacks. All fields may be
	// left nil; a nil field is simply never called. See EventTracer.
	Tracer *EventTracer
}

// DefaultMaxIdleTimeout is used when Config.MaxIdleTimeout is zero.
const DefaultMaxIdleTimeout = 30 * time.Second

func (c *Config) maxIdleTimeout() time.Duration {
	if c == nil || c.MaxIdleTimeout == 0 {
		return DefaultMaxIdleTimeout
	}
	return c.MaxIdleTimeout
}

func (c *Config) keepAlivePeriod() time.Duration {
	if c == nil {
		return 0
	}
	return c.KeepAlivePeriod
}

func (c *Config) initialWindow() uint64 {
	if c == nil || c.InitialWindow == 0 {
		return 10 * initialMaxDatagramSizeDefault
	}
	return c.InitialWindow
}

func (c *Config) minimumWindow() uint64 {
	if c == nil || c.MinimumWindow == 0 {
		return 2 * initialMaxDatagramSizeDefault
	}
	return c.MinimumWindow
}

func (c *Config) lossReductionFactorQ16() uint64 {
	if c == nil || c.LossReductionFactorQ16 == 0 {
		return 1 << 15 // 0.5
	}
	return c.LossReductionFactorQ16
}

func (c *Config) timeThresholdQ16() uint64 {
	if c == nil || c.TimeThresholdQ16 == 0 {
		return 1 << 13 // 9/8 - 1 = 1/8
	}
	return c.TimeThresholdQ16
}

func (c *Config) packetThreshold() packetNumber {
	if c == nil || c.PacketThreshold == 0 {
		return 3
	}
	return c.PacketThreshold
}

func (c *Config) persistentCongestionThreshold() uint64 {
	if c == nil || c.PersistentCongestionThreshold == 0 {
		return 3
	}
	return c.PersistentCongestionThreshold
}

func (c *Config) initialRTT() time.Duration {
	if c == nil || c.InitialRTT == 0 {
		return 333 * time.Millisecond
	}
	return c.InitialRTT
}

const initialMaxDatagramSizeDefault = 1200

func (c *Config) maxDatagramSize() uint64 {
	if c == nil || c.MaxDatagramSize == 0 {
		return initialMaxDatagramSizeDefault
	}
	return c.MaxDatagramSize
}

func (c *Config) receiveWindow() uint64 {
	if c == nil || c.ReceiveWindow == 0 {
		return 1 << 23 // 8 MiB
	}
	return c.ReceiveWindow
}

func (c *Config) sendWindow() uint64 {
	if c == nil || c.SendWindow == 0 {
		return 1 << 23
	}
	return c.SendWindow
}

func (c *Config) streamReceiveWindow() uint64 {
	if c == nil || c.StreamReceiveWindow == 0 {
		return 1 << 20 // 1 MiB
	}
	return c.StreamReceiveWindow
}

func (c *Config) streamWindowBidi() uint64 {
	if c == nil || c.StreamWindowBidi == 0 {
		return 100
	}
	return c.StreamWindowBidi
}

func (c *Config) streamWindowUni() uint64 {
	if c == nil || c.StreamWindowUni == 0 {
		return 100
	}
	return c.StreamWindowUni
}

func (c *Config) tracer() *EventTracer {
	if c == nil || c.Tracer == nil {
		return &EventTracer{}
	}
	return c.Tracer
}

// EventTracer is an optional set of diagnostic callbacks. Every field may
// be left nil; the core checks before calling. This mirrors the
// zero-cost-when-unused tracer pattern used by QUIC implementations in the
// wild, rather than pulling in a logging framework for a transport core
// that has no opinion on log formatting or destination.
type EventTracer struct {
	SentPacket             func(space numberSpace, pnum packetNumber, size int, ackEliciting bool)
	LostPacket              func(space numberSpace, pnum packetNumber, reason string)
	UpdatedCongestionState  func(cwnd, bytesInFlight uint64, ssthresh uint64)
	UpdatedRTT              func(smoothed, variance, min time.Duration)
	KeyUpdate               func(generation uint64)
	Migrated                func(addr netip.AddrPort)
	ClosedConnection        func(err error)
}
