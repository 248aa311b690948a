// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"time"

	"github.com/quic-proto/qcore/internal/congestion"
)

// inFlight is the aggregate counters named in §3: at all times it equals
// the sum, over every packetSpace, of the corresponding SentPacket fields
// (§8 invariant).
type inFlight struct {
	bytes        uint64
	cryptoPackets uint64
	ackEliciting uint64
}

func (f *inFlight) add(p *sentPacket) {
	f.bytes += uint64(p.size)
	if p.isCrypto {
		f.cryptoPackets++
	}
	if p.ackEliciting {
		f.ackEliciting++
	}
}

func (f *inFlight) remove(p *sentPacket) {
	f.bytes -= uint64(p.size)
	if p.isCrypto {
		f.cryptoPackets--
	}
	if p.ackEliciting {
		f.ackEliciting--
	}
}

// lossState ties packet spaces, the RTT estimator, and congestion control
// together, implementing §4.5's loss detection and PTO timer selection.
type lossState struct {
	cfg *Config

	rtt rttEstimator
	cc  *congestion.Controller

	inFlight inFlight

	ptoCount uint64
	// cryptoCount is incremented on each PTO expiry before the handshake is
	// confirmed and reset whenever any space makes forward progress on an ACK.
	cryptoCount uint64

	isClient bool
}

func newLossState(cfg *Config, isClient bool) *lossState {
	l := &lossState{
		cfg: cfg,
		cc: congestion.New(
			cfg.initialWindow(),
			cfg.minimumWindow(),
			cfg.maxDatagramSize(),
			cfg.lossReductionFactorQ16(),
		),
		isClient: isClient,
	}
	l.rtt.init(cfg.initialRTT(), 0)
	return l
}

// lossDelay returns max(smoothed_rtt, latest_rtt) * (1 + time_threshold/65536) (§4.5).
func (l *lossState) lossDelay() time.Duration {
	maxRTT := l.rtt.smoothed
	if l.rtt.latest > maxRTT {
		maxRTT = l.rtt.latest
	}
	if maxRTT == 0 {
		maxRTT = l.cfg.initialRTT()
	}
	num := uint64(maxRTT) * (65536 + l.cfg.timeThresholdQ16())
	d := time.Duration(num / 65536)
	if d < granularity {
		d = granularity
	}
	return d
}

// detectLost applies §4.5's loss detector to one space at time now, moving
// lost packets out of in-flight and re-queuing their retransmits into the
// space's pending set. It returns the newly lost packets (for congestion
// and ECN bookkeeping) and reports whether at least one was ack-eliciting.
func (l *lossState) detectLost(now time.Time, space *packetSpace) (lost []*sentPacket, anyAckEliciting bool) {
	space.lossTime = time.Time{}
	if space.largestAcked < 0 {
		return nil, false
	}
	delay := l.lossDelay()
	threshold := l.cfg.packetThreshold()
	lostSendTime := now.Add(-delay)
	for pn, p := range space.sent {
		if pn > space.largestAcked {
			continue
		}
		switch {
		case !p.timeSent.After(lostSendTime):
			lost = append(lost, p)
		case pn <= space.largestAcked-threshold:
			lost = append(lost, p)
		default:
			t := p.timeSent.Add(delay)
			if space.lossTime.IsZero() || t.Before(space.lossTime) {
				space.lossTime = t
			}
		}
	}
	for _, p := range lost {
		delete(space.sent, p.pn)
		l.inFlight.remove(p)
		l.cc.OnPacketDiscarded(uint64(p.size))
		mergeRetransmits(&space.pending, p.retransmits)
		if p.ackEliciting {
			anyAckEliciting = true
		}
	}
	return lost, anyAckEliciting
}

// mergeRetransmits re-queues a lost packet's retransmits into dst, which
// must be the same space's pending set the packet was originally sent
// from (§8 invariant: re-queued exactly once).
func mergeRetransmits(dst *retransmits, src retransmits) {
	dst.cryptoFrags = append(dst.cryptoFrags, src.cryptoFrags...)
	dst.streamFrags = append(dst.streamFrags, src.streamFrags...)
	dst.resetStreams = append(dst.resetStreams, src.resetStreams...)
	dst.stopSendings = append(dst.stopSendings, src.stopSendings...)
	dst.maxData = dst.maxData || src.maxData
	if len(src.maxStreamData) > 0 {
		if dst.maxStreamData == nil {
			dst.maxStreamData = make(map[StreamID]bool)
		}
		for id := range src.maxStreamData {
			dst.maxStreamData[id] = true
		}
	}
	dst.maxStreamsBidi = dst.maxStreamsBidi || src.maxStreamsBidi
	dst.maxStreamsUni = dst.maxStreamsUni || src.maxStreamsUni
	dst.newConnectionID = append(dst.newConnectionID, src.newConnectionID...)
	dst.retireConnectionID = append(dst.retireConnectionID, src.retireConnectionID...)
	dst.ping = dst.ping || src.ping
}

// maybeCongestionEvent triggers a congestion event at the send time of the
// largest lost packet, and checks for persistent congestion, per §4.5.
func (l *lossState) maybeCongestionEvent(now time.Time, space *packetSpace, lost []*sentPacket) {
	if len(lost) == 0 {
		return
	}
	var largest *sentPacket
	for _, p := range lost {
		if largest == nil || p.pn > largest.pn {
			largest = p
		}
	}
	l.cc.OnCongestionEvent(now, largest.timeSent)

	pto := l.pto(true)
	threshold := time.Duration(l.cfg.persistentCongestionThreshold()) * pto
	if !space.largestAckedSendTime.IsZero() && space.largestAckedSendTime.Before(largest.timeSent.Add(-threshold)) {
		l.cc.OnPersistentCongestion()
	}
}

// pto is the base probe timeout of the GLOSSARY: srtt + max(4*rttvar,
// granularity) + max_ack_delay.
func (l *lossState) pto(includeMaxAckDelay bool) time.Duration {
	return l.rtt.pto(includeMaxAckDelay)
}

// resetForNewPath reinitializes the RTT estimator and congestion window to
// their startup values, for a migration onto a path whose characteristics
// share nothing with the old one (§4.9).
func (l *lossState) resetForNewPath() {
	maxAckDelay := l.rtt.maxAckDelay
	l.rtt = rttEstimator{}
	l.rtt.init(l.cfg.initialRTT(), maxAckDelay)
	l.cc.Reset(l.cfg.initialWindow())
}

// backoff applies the exponential PTO/crypto backoff, capped at
// maxBackoffExponent (§6).
func backoff(d time.Duration, count uint64) time.Duration {
	if count > maxBackoffExponent {
		count = maxBackoffExponent
	}
	return d << count
}
