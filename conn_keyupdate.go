// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/sha256"
	"time"
)

// Exporter labels for the Data-space traffic secrets, and their length:
// this package asks the Session for 1-RTT keying material through the
// general-purpose exporter capability rather than a TLS-library-specific
// hook, so the labels are namespaced here instead of reusing a TLS
// built-in export label.
const (
	exporterLabelClientToServer  = "quic-core client 1rtt"
	exporterLabelServerToClient  = "quic-core server 1rtt"
	exporterLabelClientHandshake = "quic-core client handshake"
	exporterLabelServerHandshake = "quic-core server handshake"
	exportedSecretLen            = sha256.Size
)

// keyUpdateSecrets tracks the Data-space traffic secrets so a key update
// can derive the next generation without going back to the Session.
type keyUpdateSecrets struct {
	readSecret, writeSecret []byte
}

// installDataKeys is called once the handshake delivers 1-RTT traffic
// secrets, recording them so ForceKeyUpdate and peer-initiated updates can
// derive the next generation (RFC 9001, Section 6).
func (c *Conn) installDataKeys(readSecret, writeSecret []byte, suite aeadSuite) error {
	rk, err := deriveKeys(suite, readSecret)
	if err != nil {
		return err
	}
	wk, err := deriveKeys(suite, writeSecret)
	if err != nil {
		return err
	}
	c.crypto[dataSpace] = cryptoSpace{suite: suite, read: rk, write: wk}
	c.dataSecrets = keyUpdateSecrets{readSecret: readSecret, writeSecret: writeSecret}
	return nil
}

// ForceKeyUpdate initiates a key update (§4.10), for hosts that want to
// update keys proactively rather than only in response to the peer. Unlike
// a remote-initiated update, PrevCrypto from a local update starts out
// with update_unacked=false: there is no peer-initiated promotion for a
// later packet to contest.
func (c *Conn) ForceKeyUpdate(now time.Time) {
	c.updateKeys(now, false)
}

// nextDataKeys derives the read/write key pair one generation ahead of the
// Data space's current keys, without installing them, so a received
// packet whose phase bit has already flipped can be tried against them
// before this Conn commits to promoting (§4.10).
func (c *Conn) nextDataKeys() (read, write keys, err error) {
	cs := &c.crypto[dataSpace]
	nextRead := nextTrafficSecret(cs.suite, c.dataSecrets.readSecret)
	nextWrite := nextTrafficSecret(cs.suite, c.dataSecrets.writeSecret)
	read, err = deriveUpdatedKeys(cs.suite, nextRead, cs.read.hp)
	if err != nil {
		return keys{}, keys{}, err
	}
	write, err = deriveUpdatedKeys(cs.suite, nextWrite, cs.write.hp)
	if err != nil {
		return keys{}, keys{}, err
	}
	return read, write, nil
}

// updateKeys promotes the Data space to its next key generation.
// remoteInitiated distinguishes a promotion driven by a packet the peer
// already sent under the new phase (update_unacked starts true: an ack for
// our own first packet in the new phase still needs to arrive before
// KeyDiscard can be armed) from ForceKeyUpdate's local initiation
// (update_unacked starts false, per §4.10).
func (c *Conn) updateKeys(now time.Time, remoteInitiated bool) {
	cs := &c.crypto[dataSpace]
	rk, wk, err := c.nextDataKeys()
	if err != nil {
		return
	}
	nextRead := nextTrafficSecret(cs.suite, c.dataSecrets.readSecret)
	nextWrite := nextTrafficSecret(cs.suite, c.dataSecrets.writeSecret)
	cs.prev = &prevCrypto{read: cs.read, endPacket: c.spaces[dataSpace].nextTx, updateUnacked: remoteInitiated}
	cs.read = rk
	cs.write = wk
	cs.keyPhase = !cs.keyPhase
	cs.generation++
	c.dataSecrets = keyUpdateSecrets{readSecret: nextRead, writeSecret: nextWrite}
	if tr := c.config.tracer(); tr != nil && tr.KeyUpdate != nil {
		tr.KeyUpdate(cs.generation)
	}
}

// handlePacketKeyPhase processes the key-phase bit on a received 1-RTT
// packet that has already been confirmed (by conn_recv.go) to decrypt
// successfully under the *next* generation's keys, meaning the peer has
// updated and we must promote to match (§4.10). It refuses to promote
// again while a previous remote-initiated update is still unacked, per
// §4.10's "no prior remote-initiated update is still unacked" condition --
// the peer must not flip phases twice within one round trip.
func (c *Conn) handlePacketKeyPhase(now time.Time, pn packetNumber) {
	cs := &c.crypto[dataSpace]
	if cs.prev != nil && cs.prev.updateUnacked {
		return
	}
	c.updateKeys(now, true)
}

// discardPreviousKeys drops PrevCrypto once three PTOs have elapsed since
// the new phase's first packet was acknowledged, per §3's KeyDiscard
// timer.
func (c *Conn) discardPreviousKeys(now time.Time) {
	cs := &c.crypto[dataSpace]
	if cs.prev == nil {
		return
	}
	if cs.prev.updateAckTime.IsZero() {
		return
	}
	if now.Before(cs.prev.updateAckTime.Add(3 * c.loss.pto(true))) {
		return
	}
	cs.prev = nil
}
