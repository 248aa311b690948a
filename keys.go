// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// aeadSuite names the negotiated AEAD, each requiring a different header
// protection cipher per RFC 9001, Section 5.4.
type aeadSuite int

const (
	suiteAES128GCM aeadSuite = iota
	suiteAES256GCM
	suiteChaCha20Poly1305
)

// keys holds one direction's (read or write) packet-protection state for
// one CryptoSpace generation: the AEAD plus the header-protection key
// (§4.3).
type keys struct {
	suite aeadSuite
	aead  cipher.AEAD
	hp    []byte // header protection key, interpreted per suite
	iv    []byte
}

func (k keys) isSet() bool { return k.aead != nil }

// hkdfExpandLabel implements RFC 8446's HKDF-Expand-Label (reused by
// RFC 9001 for the QUIC key schedule) on top of golang.org/x/crypto/hkdf.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	var hkdfLabel []byte
	hkdfLabel = append(hkdfLabel, byte(length>>8), byte(length))
	fullLabel := "tls13 " + label
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, hkdfLabel)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("BUG: hkdf expand failed: %v", err))
	}
	return out
}

// keySizeForSuite returns the AEAD key size, in bytes, for suite.
func keySizeForSuite(suite aeadSuite) int {
	switch suite {
	case suiteAES256GCM:
		return 32
	default:
		return 16
	}
}

// newAEAD constructs the cipher.AEAD for suite given its key.
func newAEAD(suite aeadSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case suiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// deriveKeys derives one direction's packet-protection keys from a secret
// exported by the TLS session, per RFC 9001, Section 5.1.
func deriveKeys(suite aeadSuite, secret []byte) (keys, error) {
	keySize := keySizeForSuite(suite)
	key := hkdfExpandLabel(secret, "quic key", nil, keySize)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	hp := hkdfExpandLabel(secret, "quic hp", nil, keySize)
	aead, err := newAEAD(suite, key)
	if err != nil {
		return keys{}, err
	}
	return keys{suite: suite, aead: aead, hp: hp, iv: iv}, nil
}

// initialSalt is the version-1 Initial salt of RFC 9001, Section 5.2,
// used to derive Initial packet-protection keys from the client's
// original Destination Connection ID without help from the TLS stack.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// initialSecrets derives the client and server Initial secrets from the
// connection ID the client chose for its first Initial packet.
func initialSecrets(dstConnID []byte) (clientSecret, serverSecret []byte) {
	initialSecret := hkdf.Extract(sha256.New, dstConnID, initialSalt)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", nil, sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", nil, sha256.Size)
	return clientSecret, serverSecret
}

// nextTrafficSecret derives the next generation's secret from the current
// one, per RFC 9001, Section 6's "quic ku" label, used both for a
// peer-initiated key update (§4.10) and force_key_update.
func nextTrafficSecret(suite aeadSuite, secret []byte) []byte {
	return hkdfExpandLabel(secret, "quic ku", nil, len(secret))
}

// deriveUpdatedKeys derives the next generation's packet-protection key and
// IV from secret, reusing hp unchanged: RFC 9001, Section 6 updates only
// the packet-protection key on a key update, never the header-protection
// key, so a single hp value installed by deriveKeys survives every later
// generation.
func deriveUpdatedKeys(suite aeadSuite, secret []byte, hp []byte) (keys, error) {
	keySize := keySizeForSuite(suite)
	key := hkdfExpandLabel(secret, "quic key", nil, keySize)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	aead, err := newAEAD(suite, key)
	if err != nil {
		return keys{}, err
	}
	return keys{suite: suite, aead: aead, hp: hp, iv: iv}, nil
}

// headerProtectionSampleSize is the header-protection sample size, which is the
// AEAD's tag-independent cipher block/stream size: 16 bytes for both
// AES-based and ChaCha20-based header protection (RFC 9001, Section 5.4.3).
const headerProtectionSampleSize = 16

// packetIVNonce XORs the packet number into the space's IV to produce the
// per-packet AEAD nonce (RFC 9001, Section 5.3).
func packetIVNonce(iv []byte, pn packetNumber) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}

// cryptoSpace holds the AEAD and header-protection keys for one
// encryption level, in one direction pair (read + write) (§4.3).
type cryptoSpace struct {
	suite aeadSuite
	read  keys
	write keys

	// prevCrypto retains the previous generation's keys across a 1-RTT key
	// update (§3, §4.10). Only meaningful for the Data space.
	prev *prevCrypto

	keyPhase   bool   // our current outgoing key-phase bit
	generation uint64 // incremented on every key update, starting at 0
}

// prevCrypto is the PrevCrypto record of §3.
type prevCrypto struct {
	read          keys
	endPacket     packetNumber // first pn sent using the new phase
	updateAckTime time.Time    // zero until the new phase's first packet is acked
	updateUnacked bool         // remote-initiated and not yet acked
}

func (cs *cryptoSpace) tagLen() int {
	if cs.write.aead != nil {
		return cs.write.aead.Overhead()
	}
	return 16
}

// encrypt AEAD-seals payload in place (appending the tag) using the
// packet's header as associated data.
func (cs *cryptoSpace) encrypt(pn packetNumber, header, payload []byte) []byte {
	nonce := packetIVNonce(cs.write.iv, pn)
	return cs.write.aead.Seal(payload[:0], nonce, payload, header)
}

// decrypt AEAD-opens payload (the ciphertext plus trailing tag) using the
// given header as associated data and the given keys (which may be
// cs.read or cs.prev.read during a key-phase transition).
func decryptWith(k keys, pn packetNumber, header, payload []byte) ([]byte, error) {
	nonce := packetIVNonce(k.iv, pn)
	return k.aead.Open(payload[:0], nonce, payload, header)
}

func (cs *cryptoSpace) decrypt(pn packetNumber, header, payload []byte) ([]byte, error) {
	return decryptWith(cs.read, pn, header, payload)
}

// headerProtectionMask derives the 5-byte header-protection mask from a
// sample of ciphertext, per RFC 9001, Section 5.4.
//
// For AES-based suites this is AES-ECB(hp_key, sample); for
// ChaCha20-Poly1305 it is the first 5 bytes of the ChaCha20 keystream
// block selected by the sample's first 4 bytes as a little-endian counter
// and last 12 bytes as the nonce.
func headerProtectionMask(suite aeadSuite, hpKey, sample []byte) ([]byte, error) {
	if len(sample) != headerProtectionSampleSize {
		return nil, fmt.Errorf("quic: invalid header protection sample size %d", len(sample))
	}
	if suite == suiteChaCha20Poly1305 {
		return chachaHeaderProtectionMask(hpKey, sample)
	}
	block, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}
	mask := make([]byte, block.BlockSize())
	block.Encrypt(mask, sample)
	return mask[:5], nil
}

// chachaHeaderProtectionMask implements RFC 9001, Section 5.4.4: the
// sample's first 4 bytes are a little-endian block counter, the remaining
// 12 bytes are the nonce, and the mask is the first 5 bytes of the
// resulting keystream block.
func chachaHeaderProtectionMask(hpKey, sample []byte) ([]byte, error) {
	counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
	nonce := sample[4:16]
	c, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce)
	if err != nil {
		return nil, err
	}
	c.SetCounter(counter)
	mask := make([]byte, 5)
	c.XORKeyStream(mask, mask)
	return mask, nil
}
