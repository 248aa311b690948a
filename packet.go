// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"encoding/binary"
	"fmt"
)

// packetType identifies the QUIC packet types of §6 ("Wire").
type packetType byte

const (
	packetTypeInvalid packetType = iota
	packetTypeInitial
	packetType0RTT
	packetTypeHandshake
	packetTypeRetry
	packetType1RTT
	packetTypeVersionNegotiation
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "Initial"
	case packetType0RTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "Handshake"
	case packetTypeRetry:
		return "Retry"
	case packetType1RTT:
		return "1-RTT"
	case packetTypeVersionNegotiation:
		return "VersionNegotiation"
	}
	return "invalid"
}

func spaceForPacketType(t packetType) numberSpace {
	switch t {
	case packetTypeInitial:
		return initialSpace
	case packetTypeHandshake:
		return handshakeSpace
	case packetType0RTT, packetType1RTT:
		return dataSpace
	}
	panic("quic: BUG: no number space for packet type " + t.String())
}

func isLongHeader(b byte) bool { return b&0x80 != 0 }

func getPacketType(b []byte) packetType {
	if !isLongHeader(b[0]) {
		return packetType1RTT
	}
	switch (b[0] >> 4) & 0x3 {
	case 0:
		return packetTypeInitial
	case 1:
		return packetType0RTT
	case 2:
		return packetTypeHandshake
	case 3:
		return packetTypeRetry
	}
	return packetTypeInvalid
}

// longPacket is the decoded form of a long-header packet (Initial,
// 0-RTT, Handshake, Retry).
type longPacket struct {
	ptype     packetType
	version   uint32
	num       packetNumber
	dstConnID []byte
	srcConnID []byte
	token     []byte // Initial only
	payload   []byte
}

// longHeaderFirstByte builds the unprotected first byte for a long-header
// packet of the given type and packet-number length.
func longHeaderFirstByte(ptype packetType, pnumLen int) byte {
	b := byte(0xc0) // header form=1, fixed bit=1
	switch ptype {
	case packetType0RTT:
		b |= 0x10
	case packetTypeHandshake:
		b |= 0x20
	case packetTypeRetry:
		b |= 0x30
	}
	b |= byte(pnumLen - 1)
	return b
}

// packetWriter accumulates one packet's header and encrypted payload into
// a shared datagram buffer, mirroring the teacher's packetWriter API
// (c.w.start*/finish*), generalized to track the information appendFrames
// needs to build a retransmits bundle (§4.8).
type packetWriter struct {
	buf       []byte // the whole datagram so far
	maxSize   int
	headerLen int // start of this packet's header within buf
	payloadStart int // start of this packet's payload (after header) within buf

	// sent accumulates the in-progress packet's retransmit/ack-eliciting
	// bookkeeping as appendFrame* calls add frames.
	sent sentPacket
}

func (w *packetWriter) reset(maxSize int) {
	w.buf = w.buf[:0]
	w.maxSize = maxSize
}

func (w *packetWriter) datagram() []byte { return w.buf }

// remaining reports how many more bytes may be appended to the datagram.
func (w *packetWriter) remaining() int { return w.maxSize - len(w.buf) }

// payload returns the not-yet-protected bytes written to the current
// packet so far.
func (w *packetWriter) payload() []byte { return w.buf[w.payloadStart:] }

// abandonPacket discards everything written since the last start* call.
func (w *packetWriter) abandonPacket() {
	w.buf = w.buf[:w.headerLen]
	w.sent = sentPacket{}
}

func (w *packetWriter) appendPaddingTo(n int) {
	for len(w.buf) < n {
		w.buf = append(w.buf, 0)
	}
}

func (w *packetWriter) startProtectedLongHeaderPacket(pnumMaxAcked packetNumber, p longPacket) {
	w.headerLen = len(w.buf)
	pnumLen := sizeForPacketNumber(p.num, pnumMaxAcked)
	w.buf = append(w.buf, longHeaderFirstByte(p.ptype, pnumLen))
	var vb [4]byte
	binary.BigEndian.PutUint32(vb[:], p.version)
	w.buf = append(w.buf, vb[:]...)
	w.buf = append(w.buf, byte(len(p.dstConnID)))
	w.buf = append(w.buf, p.dstConnID...)
	w.buf = append(w.buf, byte(len(p.srcConnID)))
	w.buf = append(w.buf, p.srcConnID...)
	if p.ptype == packetTypeInitial {
		w.buf = appendVarint(w.buf, uint64(len(p.token)))
		w.buf = append(w.buf, p.token...)
	}
	// Reserve space for the payload-length varint (always encoded as 2
	// bytes here so it can be patched after padding, per §4.8) and the
	// packet number.
	w.buf = appendVarint2(w.buf, 0)
	for i := pnumLen - 1; i >= 0; i-- {
		w.buf = append(w.buf, byte(truncatePacketNumber(p.num, pnumLen)>>(8*i)))
	}
	w.payloadStart = len(w.buf)
	w.sent = sentPacket{pn: p.num, isCrypto: p.ptype != packetType1RTT}
}

// appendVarint2 appends a 2-byte-form varint regardless of value, used for
// the payload-length placeholder which must be patchable post-padding.
func appendVarint2(b []byte, v uint64) []byte {
	return append(b, 0x40|byte(v>>8), byte(v))
}

func setVarint2(b []byte, v uint64) {
	b[0] = 0x40 | byte(v>>8)
	b[1] = byte(v)
}

// finishProtectedLongHeaderPacket pads as required (§4.8: pn_length +
// protected_payload_length >= header_sample_size + 4), patches the
// payload-length field, encrypts, and applies header protection. It
// returns nil if the packet carries no frames (the caller should abandon
// it instead).
func (w *packetWriter) finishProtectedLongHeaderPacket(pnumMaxAcked packetNumber, k keys, p longPacket) *sentPacket {
	if len(w.buf) == w.payloadStart {
		w.abandonPacket()
		return nil
	}
	pnumLen := sizeForPacketNumber(p.num, pnumMaxAcked)
	pnumOffset := w.payloadStart - pnumLen
	w.padForSample(pnumLen)
	payloadLen := len(w.buf) - w.payloadStart + k.aead.Overhead()
	lenFieldOffset := pnumOffset - 2
	setVarint2(w.buf[lenFieldOffset:], uint64(payloadLen))

	header := append([]byte(nil), w.buf[w.headerLen:w.payloadStart]...)
	ciphertext := k.aead.Seal(nil, packetIVNonce(k.iv, p.num), w.buf[w.payloadStart:], header)
	w.buf = append(w.buf[:w.payloadStart], ciphertext...)

	if err := applyHeaderProtection(w.buf, w.headerLen, pnumOffset, pnumLen, k); err != nil {
		panic(fmt.Sprintf("BUG: header protection: %v", err))
	}

	w.sent.size = len(w.buf) - w.headerLen
	sent := w.sent
	return &sent
}

// padForSample ensures the protected payload is long enough that a
// 4-byte-after-pn sample is available (§4.8).
func (w *packetWriter) padForSample(pnumLen int) {
	minTotal := pnumLen + headerProtectionSampleSize + 4
	for len(w.buf)-(w.payloadStart-pnumLen) < minTotal {
		w.buf = append(w.buf, 0)
	}
}

// start1RTTPacket begins a short-header (1-RTT) packet.
func (w *packetWriter) start1RTTPacket(pnum, pnumMaxAcked packetNumber, dstConnID []byte, keyPhase bool, spinBit bool) {
	w.headerLen = len(w.buf)
	pnumLen := sizeForPacketNumber(pnum, pnumMaxAcked)
	first := byte(0x40) // header form=0, fixed bit=1
	if spinBit {
		first |= 0x20
	}
	if keyPhase {
		first |= 0x04
	}
	first |= byte(pnumLen - 1)
	w.buf = append(w.buf, first)
	w.buf = append(w.buf, dstConnID...)
	for i := pnumLen - 1; i >= 0; i-- {
		w.buf = append(w.buf, byte(truncatePacketNumber(pnum, pnumLen)>>(8*i)))
	}
	w.payloadStart = len(w.buf)
	w.sent = sentPacket{pn: pnum}
}

func (w *packetWriter) finish1RTTPacket(pnum, pnumMaxAcked packetNumber, dstConnID []byte, k keys) *sentPacket {
	if len(w.buf) == w.payloadStart {
		w.abandonPacket()
		return nil
	}
	pnumLen := sizeForPacketNumber(pnum, pnumMaxAcked)
	pnumOffset := w.payloadStart - pnumLen
	w.padForSample(pnumLen)

	header := append([]byte(nil), w.buf[w.headerLen:w.payloadStart]...)
	ciphertext := k.aead.Seal(nil, packetIVNonce(k.iv, pnum), w.buf[w.payloadStart:], header)
	w.buf = append(w.buf[:w.payloadStart], ciphertext...)

	if err := applyHeaderProtection(w.buf, w.headerLen, pnumOffset, pnumLen, k); err != nil {
		panic(fmt.Sprintf("BUG: header protection: %v", err))
	}
	w.sent.size = len(w.buf) - w.headerLen
	sent := w.sent
	return &sent
}

// applyHeaderProtection XORs the header-protection mask into the first
// byte's low bits and the packet-number bytes (RFC 9001, Section 5.4),
// sampling 4 bytes after the packet-number field as required by §4.3.
func applyHeaderProtection(buf []byte, headerLen, pnumOffset, pnumLen int, k keys) error {
	sampleOffset := pnumOffset + 4
	if sampleOffset+headerProtectionSampleSize > len(buf) {
		return fmt.Errorf("quic: packet too short for header protection sample")
	}
	sample := buf[sampleOffset : sampleOffset+headerProtectionSampleSize]
	mask, err := headerProtectionMask(k.suite, k.hp, sample)
	if err != nil {
		return err
	}
	if isLongHeader(buf[headerLen]) {
		buf[headerLen] ^= mask[0] & 0x0f
	} else {
		buf[headerLen] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnumLen; i++ {
		buf[pnumOffset+i] ^= mask[1+i]
	}
	return nil
}

// parsedLongHeader is the cleartext-portion result of parsing a
// long-header packet, before header protection has been removed.
type parsedLongHeader struct {
	ptype      packetType
	version    uint32
	dstConnID  []byte
	srcConnID  []byte
	token      []byte // Initial only
	pnOffset   int    // offset of the (still-protected) packet-number field
	payloadLen int    // length field: packet-number field size + protected payload
	headerEnd  int    // offset one past the length field, i.e. == pnOffset
}

// parseLongHeaderPacket parses the cleartext fields of a long-header
// packet (everything before packet-number removal), given that
// datagrams may contain several coalesced packets (§4.8): this packet's
// protected region ends at h.pnOffset+h.payloadLen within buf.
func parseLongHeaderPacket(buf []byte) (h parsedLongHeader, ok bool) {
	if len(buf) < 6 || !isLongHeader(buf[0]) {
		return h, false
	}
	h.ptype = getPacketType(buf)
	h.version = uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4])
	b := buf[5:]
	if len(b) < 1 {
		return h, false
	}
	dl := int(b[0])
	b = b[1:]
	if len(b) < dl {
		return h, false
	}
	h.dstConnID = b[:dl]
	b = b[dl:]
	if len(b) < 1 {
		return h, false
	}
	sl := int(b[0])
	b = b[1:]
	if len(b) < sl {
		return h, false
	}
	h.srcConnID = b[:sl]
	b = b[sl:]
	if h.ptype == packetTypeInitial {
		tok, n := consumeBytes(b)
		if n < 0 {
			return h, false
		}
		h.token = tok
		b = b[n:]
	}
	if h.ptype == packetTypeRetry {
		h.pnOffset = len(buf) - len(b)
		return h, true
	}
	plen, n := consumeVarint(b)
	if n < 0 {
		return h, false
	}
	b = b[n:]
	h.payloadLen = int(plen)
	h.pnOffset = len(buf) - len(b)
	h.headerEnd = h.pnOffset
	return h, true
}

// decryptLongHeaderPacket removes header protection and AEAD-decrypts one
// long-header packet occupying buf[:h.pnOffset+h.payloadLen], returning
// the packet number and plaintext payload.
func decryptLongHeaderPacket(buf []byte, h parsedLongHeader, k keys, largestAcked packetNumber) (pn packetNumber, payload []byte, consumed int, err error) {
	end := h.pnOffset + h.payloadLen
	if end > len(buf) {
		return 0, nil, 0, fmt.Errorf("quic: packet length field exceeds datagram")
	}
	region := buf[:end]
	pnumLen, err := removeHeaderProtection(region, h.pnOffset, true, k)
	if err != nil {
		return 0, nil, 0, err
	}
	var trunc uint32
	for i := 0; i < pnumLen; i++ {
		trunc = trunc<<8 | uint32(region[h.pnOffset+i])
	}
	pn = expandPacketNumber(trunc, pnumLen, largestAcked+1)
	header := region[:h.pnOffset+pnumLen]
	ciphertext := region[h.pnOffset+pnumLen:]
	plain, err := decryptWith(k, pn, header, ciphertext)
	if err != nil {
		return 0, nil, 0, err
	}
	return pn, plain, end, nil
}

// parsedShortHeader is the cleartext-portion result of parsing a 1-RTT
// packet, assuming a known (fixed-length, out-of-band) destination
// connection ID length as recommended by RFC 9000, Section 5.1.
type parsedShortHeader struct {
	dstConnID []byte
	pnOffset  int
}

func parseShortHeaderPacket(buf []byte, connIDLen int) (h parsedShortHeader, ok bool) {
	if len(buf) < 1+connIDLen || isLongHeader(buf[0]) {
		return h, false
	}
	h.dstConnID = buf[1 : 1+connIDLen]
	h.pnOffset = 1 + connIDLen
	return h, true
}

// unprotectShortHeaderPacket removes header protection from a 1-RTT packet
// in place, using k only for its header-protection key, and returns the
// packet number, key-phase bit, and the now-cleartext header alongside the
// still-encrypted payload. Header protection keys never change across a
// key update (RFC 9001, Section 6), so this runs exactly once per packet;
// the caller is then free to retry AEAD decryption of (header, ciphertext)
// against as many packet-protection key generations as it has, without
// touching the header again.
func unprotectShortHeaderPacket(buf []byte, h parsedShortHeader, k keys, largestAcked packetNumber) (pn packetNumber, keyPhase bool, header, ciphertext []byte, err error) {
	pnumLen, err := removeHeaderProtection(buf, h.pnOffset, false, k)
	if err != nil {
		return 0, false, nil, nil, err
	}
	keyPhase = buf[0]&0x04 != 0
	var trunc uint32
	for i := 0; i < pnumLen; i++ {
		trunc = trunc<<8 | uint32(buf[h.pnOffset+i])
	}
	pn = expandPacketNumber(trunc, pnumLen, largestAcked+1)
	header = buf[:h.pnOffset+pnumLen]
	ciphertext = buf[h.pnOffset+pnumLen:]
	return pn, keyPhase, header, ciphertext, nil
}

// removeHeaderProtection is the receive-side counterpart: it samples the
// still-protected payload to unmask the first byte and packet-number
// bytes, returning the unmasked packet-number length.
func removeHeaderProtection(buf []byte, headerLen int, longHdr bool, k keys) (pnumLen int, err error) {
	// The packet-number field begins right after headerLen bytes already
	// accounted for by the caller (it has parsed everything preceding the
	// packet number). We assume up to 4 bytes of pn plus the sample
	// window are present.
	if headerLen+4+headerProtectionSampleSize > len(buf) {
		return 0, fmt.Errorf("quic: packet too short")
	}
	sampleOffset := headerLen + 4
	sample := buf[sampleOffset : sampleOffset+headerProtectionSampleSize]
	mask, err := headerProtectionMask(k.suite, k.hp, sample)
	if err != nil {
		return 0, err
	}
	if longHdr {
		buf[0] ^= mask[0] & 0x0f
		pnumLen = int(buf[0]&0x3) + 1
	} else {
		buf[0] ^= mask[0] & 0x1f
		pnumLen = int(buf[0]&0x3) + 1
	}
	for i := 0; i < pnumLen; i++ {
		buf[headerLen+i] ^= mask[1+i]
	}
	return pnumLen, nil
}
