// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"bytes"
	"fmt"

	"github.com/quic-go/quic-go/quicvarint"
)

// varintLen returns the number of bytes needed to encode v as a QUIC
// variable-length integer (RFC 9000, Section 16).
func varintLen(v uint64) int {
	switch {
	case v < 1<<6:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<30:
		return 4
	default:
		return 8
	}
}

// appendVarint appends v to b in QUIC variable-length integer form, using
// quicvarint.Write (the same encoder the quic-go examples in the corpus
// depend on) rather than a hand-rolled implementation.
func appendVarint(b []byte, v uint64) []byte {
	return quicvarint.Write(b, v)
}

// consumeVarint reads one variable-length integer from the front of b,
// returning the value and the number of bytes consumed, or n=-1 on a
// truncated encoding.
func consumeVarint(b []byte) (v uint64, n int) {
	r := bytes.NewReader(b)
	val, err := quicvarint.Read(r)
	if err != nil {
		return 0, -1
	}
	return val, len(b) - r.Len()
}

// consumeBytes reads a varint-prefixed byte string from the front of b.
func consumeBytes(b []byte) (out []byte, n int) {
	l, ln := consumeVarint(b)
	if ln < 0 || uint64(ln)+l > uint64(len(b)) {
		return nil, -1
	}
	return b[ln : ln+int(l)], ln + int(l)
}

func appendBytes(b []byte, v []byte) []byte {
	b = appendVarint(b, uint64(len(v)))
	return append(b, v...)
}

// frameType identifies a QUIC frame (RFC 9000, Section 19).
type frameType byte

const (
	frameTypePadding          frameType = 0x00
	frameTypePing             frameType = 0x01
	frameTypeAck              frameType = 0x02
	frameTypeAckECN           frameType = 0x03
	frameTypeResetStream      frameType = 0x04
	frameTypeStopSending      frameType = 0x05
	frameTypeCrypto           frameType = 0x06
	frameTypeNewToken         frameType = 0x07
	frameTypeStreamBase       frameType = 0x08 // 0x08-0x0f
	frameTypeMaxData          frameType = 0x10
	frameTypeMaxStreamData    frameType = 0x11
	frameTypeMaxStreamsBidi   frameType = 0x12
	frameTypeMaxStreamsUni    frameType = 0x13
	frameTypeDataBlocked      frameType = 0x14
	frameTypeStreamDataBlocked frameType = 0x15
	frameTypeStreamsBlockedBidi frameType = 0x16
	frameTypeStreamsBlockedUni frameType = 0x17
	frameTypeNewConnectionID  frameType = 0x18
	frameTypeRetireConnectionID frameType = 0x19
	frameTypePathChallenge    frameType = 0x1a
	frameTypePathResponse     frameType = 0x1b
	frameTypeConnectionClose  frameType = 0x1c
	frameTypeConnectionCloseApp frameType = 0x1d
	frameTypeHandshakeDone    frameType = 0x1e
)

func isStreamFrameType(t byte) bool { return t >= 0x08 && t <= 0x0f }

// streamFrameBits decodes the low three bits of a STREAM frame type byte
// (RFC 9000, Section 19.8): OFF, LEN, FIN.
func streamFrameBits(t byte) (off, length, fin bool) {
	return t&0x04 != 0, t&0x02 != 0, t&0x01 != 0
}

func streamFrameType(off, length, fin bool) byte {
	t := byte(frameTypeStreamBase)
	if off {
		t |= 0x04
	}
	if length {
		t |= 0x02
	}
	if fin {
		t |= 0x01
	}
	return t
}

func (t frameType) isForbiddenIn0RTT() bool {
	return t == frameTypeAck || t == frameTypeAckECN || t == frameTypeCrypto ||
		t == frameTypeNewToken || t == frameTypeHandshakeDone || t == frameTypePathResponse
}

// frameErr is a parse error carrying enough context to build a
// FRAME_ENCODING_ERROR TransportError.
func frameErr(ft frameType, reason string) error {
	return newFrameError(errFrameEncoding, ft, reason)
}

var errShortBuffer = fmt.Errorf("quic: buffer too short")
