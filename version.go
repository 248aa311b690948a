// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "encoding/binary"

// quicVersion1 is the version number of RFC 9000.
const quicVersion1 = 1

// supportedVersions lists the versions this core can speak, in preference
// order, for Version Negotiation.
var supportedVersions = []uint32{quicVersion1}

func isSupportedVersion(v uint32) bool {
	for _, sv := range supportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// buildVersionNegotiation constructs a Version Negotiation packet
// (RFC 9000, Section 17.2.1) echoing the peer's connection IDs.
func buildVersionNegotiation(dstConnID, srcConnID []byte) []byte {
	var b []byte
	// The first byte's value is arbitrary for Version Negotiation except
	// that the long-header bit must be set; a random byte with that bit
	// set helps distinguish it from greased versions, per the RFC note.
	b = append(b, 0x80)
	b = append(b, 0, 0, 0, 0) // Version 0 marks this as Version Negotiation.
	b = append(b, byte(len(dstConnID)))
	b = append(b, dstConnID...)
	b = append(b, byte(len(srcConnID)))
	b = append(b, srcConnID...)
	for _, v := range supportedVersions {
		var vb [4]byte
		binary.BigEndian.PutUint32(vb[:], v)
		b = append(b, vb[:]...)
	}
	return b
}

// parseVersionNegotiation parses a received Version Negotiation datagram,
// returning the versions it lists.
func parseVersionNegotiation(b []byte) (versions []uint32, ok bool) {
	if len(b) < 7 || b[0]&0x80 == 0 {
		return nil, false
	}
	if binary.BigEndian.Uint32(b[1:5]) != 0 {
		return nil, false
	}
	n := int(b[5])
	b = b[6:]
	if len(b) < n {
		return nil, false
	}
	b = b[n:]
	if len(b) < 1 {
		return nil, false
	}
	n = int(b[0])
	b = b[1:]
	if len(b) < n {
		return nil, false
	}
	b = b[n:]
	for len(b) >= 4 {
		versions = append(versions, binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
	}
	return versions, true
}

// anySupported reports whether versions contains one we support; when it
// does not, handleVersionNegotiation reports the connection lost (§7).
func anySupported(versions []uint32) bool {
	for _, v := range versions {
		if isSupportedVersion(v) {
			return true
		}
	}
	return false
}
